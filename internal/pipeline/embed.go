package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mattgpt/internal/corpus"
	"mattgpt/internal/metrics"
	"mattgpt/internal/store"
)

// Embedder produces a vector for one record's pair text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	CheckpointPath string
	// Interval is how many records get processed between checkpoint steps.
	Interval     int
	PersonaAlias string
}

// Pipeline is the resumable batch job that embeds the extracted records into
// the store. One record at a time, one outbound call at a time; a failed
// record is skipped for good and the batch moves on.
type Pipeline struct {
	store    store.Store
	embedder Embedder
	cfg      Config
}

func New(st store.Store, embedder Embedder, cfg Config) *Pipeline {
	if cfg.Interval < 1 {
		cfg.Interval = 50
	}
	if cfg.PersonaAlias == "" {
		cfg.PersonaAlias = "Matt"
	}
	return &Pipeline{store: st, embedder: embedder, cfg: cfg}
}

// Run embeds every record past the checkpoint. Cancellation stops the batch
// between records without a final persist; restarting resumes from the last
// checkpoint, never re-embedding records the store already holds.
func (p *Pipeline) Run(ctx context.Context, records []corpus.Record) error {
	processed, err := store.LoadCheckpoint(p.cfg.CheckpointPath)
	if err != nil {
		slog.Warn("Checkpoint unreadable, restarting from the beginning", "error", err)
		processed = 0
	}
	if processed > 0 {
		slog.Info("Resuming from checkpoint", slog.Int("processed", processed))
	}
	if processed > len(records) {
		slog.Warn("Checkpoint exceeds corpus size, nothing to do",
			slog.Int("checkpoint", processed), slog.Int("records", len(records)))
	}

	p.checkConsistency("pre-run")

	slog.Info("Starting embedding generation",
		slog.Int("records", len(records)),
		slog.Int("resume_from", processed),
		slog.Int("checkpoint_interval", p.cfg.Interval))

	for i := processed; i < len(records); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		text := records[i].PairText(p.cfg.PersonaAlias)

		start := time.Now()
		vector, err := p.embedder.GenerateEmbedding(ctx, text)
		metrics.EmbeddingGenerationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			// Permanent gap: the record is never retried.
			slog.Error("Failed to embed record, skipping",
				slog.Int("index", i), slog.String("error", err.Error()))
			metrics.EmbeddingGenerations.WithLabelValues("error").Inc()
			metrics.RecordsSkipped.Inc()
			continue
		}
		metrics.EmbeddingGenerations.WithLabelValues("success").Inc()

		if err := p.store.Append(ctx, vector, text); err != nil {
			slog.Error("Failed to append record to store, skipping",
				slog.Int("index", i), slog.String("error", err.Error()))
			metrics.RecordsSkipped.Inc()
			continue
		}

		if (i+1)%p.cfg.Interval == 0 {
			if err := p.checkpoint(ctx, i+1); err != nil {
				slog.Error("Failed to save checkpoint, continuing", "error", err)
			} else {
				slog.Info("Checkpoint saved", slog.Int("processed", i+1), slog.Int("total", len(records)))
			}
		}
	}

	// The checkpoint never moves backwards, even past a stale one.
	final := len(records)
	if processed > final {
		final = processed
	}
	if err := p.checkpoint(ctx, final); err != nil {
		return fmt.Errorf("failed to finalize batch: %w", err)
	}

	p.checkConsistency("post-run")

	count, err := p.store.Count(ctx)
	if err == nil {
		slog.Info("Embedding batch complete",
			slog.Int("store_entries", count), slog.Int("records", len(records)))
	}

	return nil
}

// checkpoint persists the store and the progress marker in one step, bounding
// how much progress tracking a crash can lose.
func (p *Pipeline) checkpoint(ctx context.Context, processed int) error {
	if err := p.store.Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist store: %w", err)
	}
	if err := store.SaveCheckpoint(p.cfg.CheckpointPath, processed); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	metrics.CheckpointsSaved.Inc()
	if count, err := p.store.Count(ctx); err == nil {
		metrics.StoreEntries.Set(float64(count))
	}
	return nil
}

// checkConsistency logs a divergence between vectors and texts. It is a
// warning for manual rebuild, never an auto-repair.
func (p *Pipeline) checkConsistency(stage string) {
	checker, ok := p.store.(interface{ CheckConsistency() error })
	if !ok {
		return
	}
	if err := checker.CheckConsistency(); err != nil {
		slog.Warn("Store is inconsistent, consider rebuilding the index",
			slog.String("stage", stage), slog.String("error", err.Error()))
	}
}
