package discord

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Binding records which channel the bot speaks in for one guild, and whether
// the welcome message has been sent there yet.
type Binding struct {
	ChannelID string `json:"channel_id"`
	Welcomed  bool   `json:"welcomed"`
}

// Bindings is the persistent guild-to-channel map. All methods are safe for
// concurrent use; every mutation is written back to disk before returning.
type Bindings struct {
	mu      sync.Mutex
	path    string
	byGuild map[string]Binding
}

// LoadBindings reads the bindings file, creating an empty set if it does not
// exist. Entries written by older versions as bare channel IDs are migrated
// to the current form with welcomed=false.
func LoadBindings(path string) (*Bindings, error) {
	b := &Bindings{path: path, byGuild: make(map[string]Binding)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse bindings file: %w", err)
	}

	migrated := false
	for guildID, entry := range raw {
		var binding Binding
		if err := json.Unmarshal(entry, &binding); err == nil && binding.ChannelID != "" {
			b.byGuild[guildID] = binding
			continue
		}

		// Legacy format: the value is a bare channel ID number.
		var legacy int64
		if err := json.Unmarshal(entry, &legacy); err != nil {
			return nil, fmt.Errorf("failed to parse binding for guild %s: %w", guildID, err)
		}
		b.byGuild[guildID] = Binding{ChannelID: strconv.FormatInt(legacy, 10)}
		migrated = true
	}

	if migrated {
		slog.Info("Migrated legacy channel bindings", "path", path)
		if err := b.save(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Get returns the binding for a guild, if any.
func (b *Bindings) Get(guildID string) (Binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.byGuild[guildID]
	return binding, ok
}

// Bind points a guild at a channel. The welcomed flag resets so the next
// ready event greets the new channel.
func (b *Bindings) Bind(guildID, channelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byGuild[guildID] = Binding{ChannelID: channelID}
	return b.save()
}

// MarkWelcomed records that the guild's bound channel has been greeted.
func (b *Bindings) MarkWelcomed(guildID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.byGuild[guildID]
	if !ok {
		return fmt.Errorf("no binding for guild %s", guildID)
	}
	binding.Welcomed = true
	b.byGuild[guildID] = binding
	return b.save()
}

// IsBound reports whether the channel is the bound channel for the guild.
func (b *Bindings) IsBound(guildID, channelID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.byGuild[guildID]
	return ok && binding.ChannelID == channelID
}

func (b *Bindings) save() error {
	data, err := json.MarshalIndent(b.byGuild, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bindings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp bindings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write bindings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close bindings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace bindings file: %w", err)
	}
	return nil
}
