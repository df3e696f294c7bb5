package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"mattgpt/internal/metrics"
)

// SpeechService wraps the speech endpoints of the OpenAI client: Whisper for
// speech-to-text and the TTS models for text-to-speech.
type SpeechService struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

func NewSpeechService(apiKey string) *SpeechService {
	return &SpeechService{
		client: openai.NewClient(apiKey),
		voice:  openai.VoiceOnyx,
	}
}

// Transcribe converts a WAV buffer to text.
func (s *SpeechService) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(wavData),
		FilePath: "voice.wav",
	})
	if err != nil {
		metrics.OpenAIAPICalls.WithLabelValues("transcription", "error").Inc()
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	metrics.OpenAIAPICalls.WithLabelValues("transcription", "success").Inc()

	return resp.Text, nil
}

// Synthesize converts text to MP3 audio.
func (s *SpeechService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		metrics.OpenAIAPICalls.WithLabelValues("speech", "error").Inc()
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	defer resp.Close()
	metrics.OpenAIAPICalls.WithLabelValues("speech", "success").Inc()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}
