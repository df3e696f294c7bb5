package discord

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func bindingsPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "discord_channel_config.json")
}

func TestLoadBindings_MissingFile(t *testing.T) {
	b, err := LoadBindings(bindingsPath(t))
	if err != nil {
		t.Fatalf("LoadBindings() error = %v", err)
	}
	if _, ok := b.Get("123"); ok {
		t.Error("expected empty bindings")
	}
}

func TestBindAndReload(t *testing.T) {
	path := bindingsPath(t)

	b, err := LoadBindings(path)
	if err != nil {
		t.Fatalf("LoadBindings() error = %v", err)
	}
	if err := b.Bind("guild1", "chan1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := b.MarkWelcomed("guild1"); err != nil {
		t.Fatalf("MarkWelcomed() error = %v", err)
	}

	reloaded, err := LoadBindings(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	binding, ok := reloaded.Get("guild1")
	if !ok {
		t.Fatal("binding not persisted")
	}
	if binding.ChannelID != "chan1" || !binding.Welcomed {
		t.Errorf("binding = %+v, want {chan1 true}", binding)
	}
}

func TestRebindResetsWelcomed(t *testing.T) {
	b, err := LoadBindings(bindingsPath(t))
	if err != nil {
		t.Fatalf("LoadBindings() error = %v", err)
	}
	if err := b.Bind("guild1", "chan1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := b.MarkWelcomed("guild1"); err != nil {
		t.Fatalf("MarkWelcomed() error = %v", err)
	}
	if err := b.Bind("guild1", "chan2"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	binding, _ := b.Get("guild1")
	if binding.ChannelID != "chan2" || binding.Welcomed {
		t.Errorf("binding = %+v, want {chan2 false}", binding)
	}
}

func TestLoadBindings_MigratesLegacyFormat(t *testing.T) {
	path := bindingsPath(t)
	legacy := `{"guild1": 111222333, "guild2": {"channel_id": "444", "welcomed": true}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBindings(path)
	if err != nil {
		t.Fatalf("LoadBindings() error = %v", err)
	}

	binding, ok := b.Get("guild1")
	if !ok || binding.ChannelID != "111222333" || binding.Welcomed {
		t.Errorf("migrated binding = %+v, want {111222333 false}", binding)
	}
	binding, ok = b.Get("guild2")
	if !ok || binding.ChannelID != "444" || !binding.Welcomed {
		t.Errorf("modern binding = %+v, want {444 true}", binding)
	}

	// Migration rewrites the file in the current format.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]Binding
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("rewritten file not in current format: %v", err)
	}
	if onDisk["guild1"].ChannelID != "111222333" {
		t.Errorf("rewritten guild1 = %+v", onDisk["guild1"])
	}
}

func TestLoadBindings_RejectsGarbage(t *testing.T) {
	path := bindingsPath(t)
	if err := os.WriteFile(path, []byte(`{"guild1": "not-a-number"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBindings(path); err == nil {
		t.Error("expected error for unparseable binding")
	}
}

func TestIsBound(t *testing.T) {
	b, err := LoadBindings(bindingsPath(t))
	if err != nil {
		t.Fatalf("LoadBindings() error = %v", err)
	}
	if err := b.Bind("guild1", "chan1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if !b.IsBound("guild1", "chan1") {
		t.Error("expected guild1/chan1 to be bound")
	}
	if b.IsBound("guild1", "chan2") {
		t.Error("chan2 should not be bound")
	}
	if b.IsBound("guild2", "chan1") {
		t.Error("guild2 should not be bound")
	}
}
