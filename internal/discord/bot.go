package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"mattgpt/internal/metrics"
	"mattgpt/internal/services"
)

const welcomeMessage = "Hello! I'm a bot that Matthew created with 15 years of Messenger data. Use `!set_channel` to choose a different channel."

// Responder generates a persona reply for one incoming message.
type Responder interface {
	Respond(ctx context.Context, message string) string
}

// Bot bridges Discord to the responder. One bot serves many guilds but holds
// a single conversation history; the responder serializes its own calls.
type Bot struct {
	session   *discordgo.Session
	responder Responder
	speech    *services.SpeechService
	bindings  *Bindings

	voiceMu sync.Mutex
	voice   map[string]*voiceSession
}

func NewBot(token string, responder Responder, speech *services.SpeechService, bindings *Bindings) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session:   session,
		responder: responder,
		speech:    speech,
		bindings:  bindings,
		voice:     make(map[string]*voiceSession),
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onMessageCreate)

	return bot, nil
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	slog.Info("Discord bot connected")

	<-ctx.Done()

	b.voiceMu.Lock()
	for guildID, vs := range b.voice {
		vs.stop()
		delete(b.voice, guildID)
	}
	b.voiceMu.Unlock()

	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, _ *discordgo.Ready) {
	slog.Info("Discord bot ready", "user", s.State.User.Username)
}

// onGuildCreate fires once per guild on startup and again when the bot is
// added to a new server.
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	b.ensureDefaultChannel(s, g.Guild)
}

// ensureDefaultChannel binds the first writable text channel for a guild the
// bot has not seen before, and greets it exactly once.
func (b *Bot) ensureDefaultChannel(s *discordgo.Session, g *discordgo.Guild) {
	binding, bound := b.bindings.Get(g.ID)
	if bound && binding.Welcomed {
		return
	}

	if !bound {
		channelID := firstWritableChannel(s, g)
		if channelID == "" {
			slog.Warn("No writable text channel in guild", "guild_id", g.ID)
			return
		}
		if err := b.bindings.Bind(g.ID, channelID); err != nil {
			slog.Error("Failed to save channel binding", "guild_id", g.ID, "error", err)
			return
		}
		binding, _ = b.bindings.Get(g.ID)
	}

	if _, err := s.ChannelMessageSend(binding.ChannelID, welcomeMessage); err != nil {
		slog.Warn("Failed to send welcome message", "guild_id", g.ID, "error", err)
		return
	}
	if err := b.bindings.MarkWelcomed(g.ID); err != nil {
		slog.Error("Failed to mark guild welcomed", "guild_id", g.ID, "error", err)
	}
}

func firstWritableChannel(s *discordgo.Session, g *discordgo.Guild) string {
	channels := g.Channels
	if len(channels) == 0 {
		var err error
		channels, err = s.GuildChannels(g.ID)
		if err != nil {
			slog.Warn("Failed to list guild channels", "guild_id", g.ID, "error", err)
			return ""
		}
	}
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		perms, err := s.UserChannelPermissions(s.State.User.ID, ch.ID)
		if err != nil {
			continue
		}
		if perms&discordgo.PermissionSendMessages != 0 {
			return ch.ID
		}
	}
	return ""
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.GuildID == "" {
		return
	}

	if strings.HasPrefix(m.Content, "!") {
		b.handleCommand(s, m)
		return
	}

	if !b.bindings.IsBound(m.GuildID, m.ChannelID) {
		return
	}

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		slog.Debug("Failed to send typing indicator", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reply := b.responder.Respond(ctx, m.Content)

	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		slog.Error("Failed to send response", "channel_id", m.ChannelID, "error", err)
		metrics.DiscordMessagesProcessed.WithLabelValues("error").Inc()
		return
	}
	metrics.DiscordMessagesProcessed.WithLabelValues("success").Inc()
}

func (b *Bot) handleCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(m.Content, "!"), " ")

	switch name {
	case "set_channel":
		if err := b.bindings.Bind(m.GuildID, m.ChannelID); err != nil {
			slog.Error("Failed to save channel binding", "guild_id", m.GuildID, "error", err)
			return
		}
		if err := b.bindings.MarkWelcomed(m.GuildID); err != nil {
			slog.Error("Failed to mark guild welcomed", "guild_id", m.GuildID, "error", err)
		}
		slog.Info("Channel bound", "guild_id", m.GuildID, "channel_id", m.ChannelID)
		b.reply(s, m.ChannelID, fmt.Sprintf("This channel (<#%s>) is now set for bot messages.", m.ChannelID))

	case "send_message":
		message := strings.TrimSpace(arg)
		if message == "" {
			message = "Hello, Discord!"
		}
		channelID := m.ChannelID
		if binding, ok := b.bindings.Get(m.GuildID); ok {
			channelID = binding.ChannelID
		}
		if _, err := s.ChannelMessageSend(channelID, message); err != nil {
			b.reply(s, m.ChannelID, "Error: Channel not found.")
		}

	case "join":
		b.handleJoin(s, m)

	case "leave":
		b.handleLeave(s, m)
	}
}

func (b *Bot) handleJoin(s *discordgo.Session, m *discordgo.MessageCreate) {
	voiceChannelID := callerVoiceChannel(s, m.GuildID, m.Author.ID)
	if voiceChannelID == "" {
		b.reply(s, m.ChannelID, "You must be in a voice channel for me to join.")
		return
	}

	b.voiceMu.Lock()
	defer b.voiceMu.Unlock()

	if _, ok := b.voice[m.GuildID]; ok {
		b.reply(s, m.ChannelID, "Already listening here.")
		return
	}

	vs, err := b.startVoice(s, m.GuildID, voiceChannelID)
	if err != nil {
		slog.Error("Failed to join voice channel", "guild_id", m.GuildID, "error", err)
		b.reply(s, m.ChannelID, "Couldn't join the voice channel.")
		return
	}
	b.voice[m.GuildID] = vs
	b.reply(s, m.ChannelID, "Joined and Listening...")
}

func (b *Bot) handleLeave(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.voiceMu.Lock()
	vs, ok := b.voice[m.GuildID]
	if ok {
		delete(b.voice, m.GuildID)
	}
	b.voiceMu.Unlock()

	if !ok {
		b.reply(s, m.ChannelID, "I'm not in a voice channel.")
		return
	}
	vs.stop()
	b.reply(s, m.ChannelID, "Disconnected from the voice channel.")
}

func callerVoiceChannel(s *discordgo.Session, guildID, userID string) string {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

func (b *Bot) reply(s *discordgo.Session, channelID, text string) {
	if _, err := s.ChannelMessageSend(channelID, text); err != nil {
		slog.Warn("Failed to send message", "channel_id", channelID, "error", err)
	}
}
