package audio

import (
	"testing"
	"time"
)

// fakeClock is a manual monotonic clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func loudFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = 8000
	}
	return frame
}

func quietFrame(n int) []int16 {
	return make([]int16, n)
}

func newTestDebouncer(clock *fakeClock, flushed *[][]int16) *Debouncer {
	d := NewDebouncer(0.05, time.Second, func(pcm []int16) {
		*flushed = append(*flushed, pcm)
	})
	d.SetClock(clock.now)
	return d
}

func TestDebouncerDiscardsLeadingSilence(t *testing.T) {
	clock := &fakeClock{}
	var flushed [][]int16
	d := newTestDebouncer(clock, &flushed)

	for i := 0; i < 10; i++ {
		d.Write(quietFrame(160))
		clock.advance(10 * time.Millisecond)
	}

	if got := d.State(); got != StateListening {
		t.Errorf("state = %v, want listening", got)
	}
	if len(flushed) != 0 {
		t.Errorf("flushed %d utterances, want 0", len(flushed))
	}
}

func TestDebouncerFlushesAfterQuietWindow(t *testing.T) {
	clock := &fakeClock{}
	var flushed [][]int16
	d := newTestDebouncer(clock, &flushed)

	d.Write(loudFrame(160))
	if got := d.State(); got != StateListening {
		t.Fatalf("state after speech = %v, want listening", got)
	}

	d.Write(quietFrame(160))
	if got := d.State(); got != StateDebouncing {
		t.Fatalf("state after first quiet frame = %v, want debouncing", got)
	}

	// Still inside the window: no flush yet.
	clock.advance(500 * time.Millisecond)
	d.Write(quietFrame(160))
	if len(flushed) != 0 {
		t.Fatal("flushed before the quiet window elapsed")
	}

	clock.advance(600 * time.Millisecond)
	d.Write(quietFrame(160))
	if len(flushed) != 1 {
		t.Fatalf("flushed %d utterances, want 1", len(flushed))
	}
	// Speech plus the trailing quiet frames.
	if len(flushed[0]) != 160*4 {
		t.Errorf("flushed %d samples, want %d", len(flushed[0]), 160*4)
	}
	if got := d.State(); got != StateListening {
		t.Errorf("state after flush = %v, want listening", got)
	}
}

func TestDebouncerSpeechReArmsWindow(t *testing.T) {
	clock := &fakeClock{}
	var flushed [][]int16
	d := newTestDebouncer(clock, &flushed)

	d.Write(loudFrame(160))
	d.Write(quietFrame(160))
	clock.advance(900 * time.Millisecond)

	// Speech resumes just before the window elapses.
	d.Write(loudFrame(160))
	if got := d.State(); got != StateListening {
		t.Fatalf("state = %v, want listening after speech resumed", got)
	}

	clock.advance(2 * time.Second)
	d.Write(quietFrame(160))
	if len(flushed) != 0 {
		t.Fatal("window must restart after resumed speech")
	}

	clock.advance(time.Second)
	d.Tick()
	if len(flushed) != 1 {
		t.Fatalf("flushed %d utterances, want 1", len(flushed))
	}
}

func TestDebouncerTickFlushesWhenPacketsStop(t *testing.T) {
	clock := &fakeClock{}
	var flushed [][]int16
	d := newTestDebouncer(clock, &flushed)

	// Speaker talks, then the packet stream stops entirely.
	d.Write(loudFrame(160))

	clock.advance(400 * time.Millisecond)
	d.Tick() // starts the quiet window
	if got := d.State(); got != StateDebouncing {
		t.Fatalf("state after tick = %v, want debouncing", got)
	}

	clock.advance(999 * time.Millisecond)
	d.Tick()
	if len(flushed) != 0 {
		t.Fatal("flushed before the quiet window elapsed")
	}

	clock.advance(time.Millisecond)
	d.Tick()
	if len(flushed) != 1 {
		t.Fatalf("flushed %d utterances, want 1", len(flushed))
	}
	if len(flushed[0]) != 160 {
		t.Errorf("flushed %d samples, want 160", len(flushed[0]))
	}
}

func TestDebouncerBuffersNextUtteranceAfterFlush(t *testing.T) {
	clock := &fakeClock{}
	var flushed [][]int16
	d := newTestDebouncer(clock, &flushed)

	for round := 0; round < 3; round++ {
		d.Write(loudFrame(160))
		d.Write(quietFrame(160))
		clock.advance(2 * time.Second)
		d.Tick()
	}

	if len(flushed) != 3 {
		t.Errorf("flushed %d utterances, want 3", len(flushed))
	}
}
