package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"mattgpt/internal/metrics"
	"mattgpt/internal/store"
)

// fallbackResponse is the only error text a conversation partner ever sees.
const fallbackResponse = "Sorry, an error occurred while generating a response."

// Embedder turns text into a query vector for retrieval.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// completionClient is the slice of the OpenAI client the responder needs.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ResponderConfig struct {
	Model       string
	ChaosModel  string
	ChaosChance float64
	// ConversationLimit is the number of recent turns kept as live history.
	ConversationLimit int
	PersonaName       string
	TopK              int
}

// Responder generates persona responses: it retrieves the nearest stored
// exchanges, splices them into a system prompt and calls the completion
// service with a bounded sliding window of recent turns. A single Responder
// owns its history; calls are serialized so only one completion is in
// flight per instance.
type Responder struct {
	mu       sync.Mutex
	client   completionClient
	embedder Embedder
	store    store.Store
	cfg      ResponderConfig
	history  []openai.ChatCompletionMessage

	randFloat func() float64
}

func NewResponder(apiKey string, st store.Store, embedder Embedder, cfg ResponderConfig) *Responder {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.ConversationLimit <= 0 {
		cfg.ConversationLimit = 5
	}
	return &Responder{
		client:    openai.NewClient(apiKey),
		embedder:  embedder,
		store:     st,
		cfg:       cfg,
		randFloat: rand.Float64,
	}
}

// Respond runs one conversation turn. It never returns an error: any
// completion failure degrades to the fixed fallback string and the history
// keeps only the user turn.
func (r *Responder) Respond(ctx context.Context, input string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.ResponseDuration.Observe(time.Since(start).Seconds())
	}()

	chaos := r.cfg.ChaosModel != "" && r.randFloat() < r.cfg.ChaosChance

	// Retrieval failure never blocks the turn.
	similar := r.retrieveSimilar(ctx, input)

	r.history = append(r.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})
	if len(r.history) > r.cfg.ConversationLimit {
		r.history = r.history[len(r.history)-r.cfg.ConversationLimit:]
	}

	model := r.cfg.Model
	if chaos {
		model = r.cfg.ChaosModel
		metrics.ChaosTurns.Inc()
		slog.Debug("Chaos mode selected for this turn", slog.String("model", model))
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(r.history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: r.buildSystemPrompt(input, similar),
	})
	messages = append(messages, r.history...)

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	callStart := time.Now()
	resp, err := r.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	metrics.OpenAIAPICallDuration.WithLabelValues("completion").Observe(time.Since(callStart).Seconds())
	if err != nil {
		metrics.OpenAIAPICalls.WithLabelValues("completion", "error").Inc()
		metrics.ResponsesGenerated.WithLabelValues("error").Inc()
		slog.Error("Failed to generate response", "error", err)
		return fallbackResponse
	}
	metrics.OpenAIAPICalls.WithLabelValues("completion", "success").Inc()

	if len(resp.Choices) == 0 {
		metrics.ResponsesGenerated.WithLabelValues("error").Inc()
		slog.Error("Completion returned no choices")
		return fallbackResponse
	}

	responseText := resp.Choices[0].Message.Content

	r.history = append(r.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: responseText,
	})

	metrics.ResponsesGenerated.WithLabelValues("success").Inc()
	slog.Info("Generated response",
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))

	return responseText
}

// retrieveSimilar returns up to TopK stored exchanges nearest to the query.
// Any failure degrades to an empty result.
func (r *Responder) retrieveSimilar(ctx context.Context, query string) []string {
	vec, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		slog.Error("Failed to embed query, proceeding without retrieval", "error", err)
		return nil
	}

	similar, err := r.store.Search(ctx, vec, r.cfg.TopK)
	if err != nil {
		slog.Error("Failed to search store, proceeding without retrieval", "error", err)
		return nil
	}
	return similar
}

func (r *Responder) buildSystemPrompt(input string, similar []string) string {
	parts := make([]string, 0, len(similar))
	for _, text := range similar {
		parts = append(parts, "PAST CONVERSATION:\n"+text)
	}
	contextPrompt := strings.Join(parts, "\n\n")

	return fmt.Sprintf(`You are %s. Your responses must closely match the tone, vocabulary, and structure of past conversations.
If in doubt, prioritize similarity over creativity. Do not introduce new styles or perspectives.

Past relevant conversations:
%s

New User Input:
USER: %s

Now generate a response that aligns with the prior conversations:`, r.cfg.PersonaName, contextPrompt, input)
}
