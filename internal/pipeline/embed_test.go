package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"mattgpt/internal/corpus"
	"mattgpt/internal/store"
)

// mockEmbedder returns a distinct unit vector per call and can be told to
// fail on specific texts or to cancel the run after a number of successes.
type mockEmbedder struct {
	calls       int
	failOn      map[string]bool
	cancelAfter int
	cancel      context.CancelFunc
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if m.failOn[text] {
		return nil, errors.New("embedding service unavailable")
	}
	m.calls++
	if m.cancelAfter > 0 && m.calls >= m.cancelAfter && m.cancel != nil {
		m.cancel()
	}
	// Deterministic per-call vector so entries stay distinguishable.
	return []float32{float32(m.calls), 1}, nil
}

func makeRecords(n int) []corpus.Record {
	records := make([]corpus.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, corpus.Record{
			OtherPerson: fmt.Sprintf("question %d", i),
			YourReply:   fmt.Sprintf("answer %d", i),
			Timestamp:   int64(i),
		})
	}
	return records
}

type paths struct {
	index, texts, checkpoint string
}

func tempPaths(t *testing.T) paths {
	t.Helper()
	dir := t.TempDir()
	return paths{
		index:      filepath.Join(dir, "index.bin"),
		texts:      filepath.Join(dir, "texts.gob"),
		checkpoint: filepath.Join(dir, "processed_count.txt"),
	}
}

func TestRunToCompletion(t *testing.T) {
	p := tempPaths(t)
	records := makeRecords(7)

	st := store.Open(p.index, p.texts)
	pipe := New(st, &mockEmbedder{}, Config{CheckpointPath: p.checkpoint, Interval: 3})
	if err := pipe.Run(context.Background(), records); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	count, _ := st.Count(context.Background())
	if count != len(records) {
		t.Errorf("store count = %d, want %d", count, len(records))
	}

	// Final checkpoint equals the full record count even though 7 is not a
	// multiple of the interval.
	n, err := store.LoadCheckpoint(p.checkpoint)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(records) {
		t.Errorf("checkpoint = %d, want %d", n, len(records))
	}

	// Reload from disk: the final unconditional persist covered everything.
	reloaded := store.Open(p.index, p.texts)
	count, _ = reloaded.Count(context.Background())
	if count != len(records) {
		t.Errorf("reloaded store count = %d, want %d", count, len(records))
	}
}

func TestInterruptedRunResumesWithoutDuplicatesOrGaps(t *testing.T) {
	p := tempPaths(t)
	records := makeRecords(20)
	const interval = 5

	// First run: cancelled after 12 embeddings. Progress past the last
	// checkpoint (10) is lost with the in-memory store.
	ctx, cancel := context.WithCancel(context.Background())
	st := store.Open(p.index, p.texts)
	emb := &mockEmbedder{cancelAfter: 12, cancel: cancel}
	pipe := New(st, emb, Config{CheckpointPath: p.checkpoint, Interval: interval})

	if err := pipe.Run(ctx, records); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	n, err := store.LoadCheckpoint(p.checkpoint)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("checkpoint after interrupt = %d, want 10", n)
	}

	// Second run: fresh process, store reloaded from disk, resumes from the
	// checkpoint and finishes.
	st2 := store.Open(p.index, p.texts)
	pipe2 := New(st2, &mockEmbedder{}, Config{CheckpointPath: p.checkpoint, Interval: interval})
	if err := pipe2.Run(context.Background(), records); err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}

	count, _ := st2.Count(context.Background())
	if count != len(records) {
		t.Fatalf("store count after resume = %d, want %d", count, len(records))
	}

	// No duplicates: every stored text is unique.
	seen := make(map[string]bool)
	texts, err := st2.Search(context.Background(), []float32{0, 0}, len(records))
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range texts {
		if seen[text] {
			t.Errorf("duplicate entry %q after resume", text)
		}
		seen[text] = true
	}

	n, _ = store.LoadCheckpoint(p.checkpoint)
	if n != len(records) {
		t.Errorf("final checkpoint = %d, want %d", n, len(records))
	}
}

func TestFailedRecordIsSkippedNotFatal(t *testing.T) {
	p := tempPaths(t)
	records := makeRecords(6)
	badText := records[2].PairText("Matt")

	st := store.Open(p.index, p.texts)
	emb := &mockEmbedder{failOn: map[string]bool{badText: true}}
	pipe := New(st, emb, Config{CheckpointPath: p.checkpoint, Interval: 2})

	if err := pipe.Run(context.Background(), records); err != nil {
		t.Fatalf("Run() error = %v, want nil despite the failed record", err)
	}

	// The gap is permanent: 5 entries, no retry of the failed record.
	count, _ := st.Count(context.Background())
	if count != len(records)-1 {
		t.Errorf("store count = %d, want %d", count, len(records)-1)
	}

	// The checkpoint still advances past the skipped record.
	n, _ := store.LoadCheckpoint(p.checkpoint)
	if n != len(records) {
		t.Errorf("checkpoint = %d, want %d", n, len(records))
	}

	texts, _ := st.Search(context.Background(), []float32{0, 0}, len(records))
	for _, text := range texts {
		if text == badText {
			t.Errorf("failed record %q should not be in the store", badText)
		}
	}
}

func TestRerunAfterCompletionIsANoOp(t *testing.T) {
	p := tempPaths(t)
	records := makeRecords(4)

	st := store.Open(p.index, p.texts)
	pipe := New(st, &mockEmbedder{}, Config{CheckpointPath: p.checkpoint, Interval: 2})
	if err := pipe.Run(context.Background(), records); err != nil {
		t.Fatal(err)
	}

	// Running again must not re-embed anything.
	st2 := store.Open(p.index, p.texts)
	emb := &mockEmbedder{}
	pipe2 := New(st2, emb, Config{CheckpointPath: p.checkpoint, Interval: 2})
	if err := pipe2.Run(context.Background(), records); err != nil {
		t.Fatal(err)
	}

	if emb.calls != 0 {
		t.Errorf("second run made %d embedding calls, want 0", emb.calls)
	}
	count, _ := st2.Count(context.Background())
	if count != len(records) {
		t.Errorf("store count = %d, want %d", count, len(records))
	}
}

func TestStaleCheckpointNeverMovesBackwards(t *testing.T) {
	p := tempPaths(t)
	if err := store.SaveCheckpoint(p.checkpoint, 100); err != nil {
		t.Fatal(err)
	}

	st := store.Open(p.index, p.texts)
	emb := &mockEmbedder{}
	pipe := New(st, emb, Config{CheckpointPath: p.checkpoint, Interval: 10})
	if err := pipe.Run(context.Background(), makeRecords(5)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if emb.calls != 0 {
		t.Errorf("made %d embedding calls past a stale checkpoint, want 0", emb.calls)
	}
	n, _ := store.LoadCheckpoint(p.checkpoint)
	if n != 100 {
		t.Errorf("checkpoint = %d, want 100 (monotonically non-decreasing)", n)
	}
}
