package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mattgpt_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mattgpt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Embedding pipeline metrics
	EmbeddingGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mattgpt_embedding_generations_total",
			Help: "Total number of embedding generations",
		},
		[]string{"status"},
	)

	EmbeddingGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mattgpt_embedding_generation_duration_seconds",
			Help:    "Duration of embedding generation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mattgpt_pipeline_records_skipped_total",
			Help: "Records skipped by the embedding pipeline after a failed embedding call",
		},
	)

	CheckpointsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mattgpt_pipeline_checkpoints_saved_total",
			Help: "Checkpoint persist steps completed by the embedding pipeline",
		},
	)

	StoreEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mattgpt_store_entries",
			Help: "Number of entries in the embedding store",
		},
	)

	// Responder metrics
	ResponsesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mattgpt_responses_generated_total",
			Help: "Total number of conversation turns answered",
		},
		[]string{"status"},
	)

	ResponseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mattgpt_response_duration_seconds",
			Help:    "Duration of a full respond() turn in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChaosTurns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mattgpt_chaos_turns_total",
			Help: "Turns answered by the alternate chaos model",
		},
	)

	// OpenAI metrics
	OpenAIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mattgpt_openai_api_calls_total",
			Help: "Total number of OpenAI API calls",
		},
		[]string{"kind", "status"},
	)

	OpenAIAPICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mattgpt_openai_api_call_duration_seconds",
			Help:    "Duration of OpenAI API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Discord metrics
	DiscordMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mattgpt_discord_messages_processed_total",
			Help: "Total number of Discord messages processed",
		},
		[]string{"status"},
	)

	VoiceTranscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mattgpt_voice_transcriptions_total",
			Help: "Total number of voice transcriptions",
		},
		[]string{"status"},
	)
)
