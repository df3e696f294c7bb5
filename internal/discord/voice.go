package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"mattgpt/internal/audio"
	"mattgpt/internal/metrics"
)

const (
	discordSampleRate = 48000
	discordChannels   = 2
	discordFrameSize  = 960 // 20ms at 48kHz, per channel

	transcribeSampleRate = 16000

	// Speech below this normalized RMS counts as silence; an utterance is
	// flushed after a full second of it, matching how long callers pause
	// between sentences.
	voiceSilenceThreshold = 0.01
	voiceSilenceWindow    = time.Second
)

// voiceSession is one active voice-channel connection: it decodes incoming
// opus, waits for the speaker to go quiet, then transcribes the utterance and
// speaks the responder's reply back.
type voiceSession struct {
	bot     *Bot
	guildID string

	vc        *discordgo.VoiceConnection
	decoder   *gopus.Decoder
	encoder   *gopus.Encoder
	debouncer *audio.Debouncer

	done chan struct{}
}

func (b *Bot) startVoice(s *discordgo.Session, guildID, channelID string) (*voiceSession, error) {
	vc, err := s.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	decoder, err := gopus.NewDecoder(discordSampleRate, discordChannels)
	if err != nil {
		vc.Disconnect()
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	encoder, err := gopus.NewEncoder(discordSampleRate, discordChannels, gopus.Audio)
	if err != nil {
		vc.Disconnect()
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	vs := &voiceSession{
		bot:     b,
		guildID: guildID,
		vc:      vc,
		decoder: decoder,
		encoder: encoder,
		done:    make(chan struct{}),
	}
	vs.debouncer = audio.NewDebouncer(voiceSilenceThreshold, voiceSilenceWindow, vs.handleUtterance)

	go vs.receiveLoop()
	go vs.tickLoop()

	return vs, nil
}

func (vs *voiceSession) stop() {
	close(vs.done)
	if err := vs.vc.Disconnect(); err != nil {
		slog.Warn("Failed to disconnect voice", "guild_id", vs.guildID, "error", err)
	}
}

// receiveLoop drains incoming opus packets into the debouncer as mono 16kHz
// PCM. Exits when the voice connection closes.
func (vs *voiceSession) receiveLoop() {
	for {
		select {
		case <-vs.done:
			return
		case packet, ok := <-vs.vc.OpusRecv:
			if !ok {
				return
			}
			pcm, err := vs.decoder.Decode(packet.Opus, discordFrameSize, false)
			if err != nil {
				slog.Debug("Failed to decode opus packet", "error", err)
				continue
			}
			mono := audio.DownmixStereo(pcm)
			vs.debouncer.Write(audio.ResampleLinear(mono, discordSampleRate, transcribeSampleRate))
		}
	}
}

// tickLoop drives silence detection while no packets arrive. Discord stops
// sending frames the moment a speaker goes quiet, so Write alone never sees
// the end of an utterance.
func (vs *voiceSession) tickLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-vs.done:
			return
		case <-ticker.C:
			vs.debouncer.Tick()
		}
	}
}

// handleUtterance runs the whole voice round trip for one flushed utterance.
// Any failure is logged and dropped; a bad utterance must not take the bot
// down.
func (vs *voiceSession) handleUtterance(samples []int16) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	wavData, err := audio.EncodeWAV(samples, transcribeSampleRate)
	if err != nil {
		slog.Error("Failed to encode utterance", "error", err)
		return
	}

	text, err := vs.bot.speech.Transcribe(ctx, wavData)
	if err != nil {
		slog.Error("Failed to transcribe utterance", "error", err)
		metrics.VoiceTranscriptions.WithLabelValues("error").Inc()
		return
	}
	metrics.VoiceTranscriptions.WithLabelValues("success").Inc()
	if strings.TrimSpace(text) == "" {
		return
	}
	slog.Info("Transcribed utterance", "text", text)

	reply := vs.bot.responder.Respond(ctx, text)

	mp3Data, err := vs.bot.speech.Synthesize(ctx, reply)
	if err != nil {
		slog.Error("Failed to synthesize reply", "error", err)
		return
	}

	if err := vs.speak(mp3Data); err != nil {
		slog.Error("Failed to play reply", "guild_id", vs.guildID, "error", err)
	}
}

// speak decodes the TTS audio and streams it to the channel as 20ms opus
// frames.
func (vs *voiceSession) speak(mp3Data []byte) error {
	pcm, rate, err := audio.DecodeMP3(mp3Data)
	if err != nil {
		return err
	}

	// The mp3 decoder always yields interleaved stereo.
	mono := audio.DownmixStereo(pcm)
	stereo := audio.UpmixMono(audio.ResampleLinear(mono, rate, discordSampleRate))

	if err := vs.vc.Speaking(true); err != nil {
		return fmt.Errorf("failed to set speaking state: %w", err)
	}
	defer vs.vc.Speaking(false)

	frame := discordFrameSize * discordChannels
	for offset := 0; offset < len(stereo); offset += frame {
		end := offset + frame
		if end > len(stereo) {
			break
		}
		data, err := vs.encoder.Encode(stereo[offset:end], discordFrameSize, frame*2)
		if err != nil {
			return fmt.Errorf("failed to encode opus frame: %w", err)
		}
		select {
		case <-vs.done:
			return nil
		case vs.vc.OpusSend <- data:
		}
	}
	return nil
}
