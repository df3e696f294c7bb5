package audio

import (
	"sync"
	"time"
)

type DebounceState int

const (
	// StateListening waits for speech; leading silence is discarded.
	StateListening DebounceState = iota
	// StateDebouncing has buffered speech and is waiting out the quiet window.
	StateDebouncing
	// StateFlushing is delivering the buffered utterance to the callback.
	StateFlushing
)

func (s DebounceState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateDebouncing:
		return "debouncing"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Debouncer buffers PCM frames and fires a callback once the input has been
// quiet for a full window. It is driven by the clock it is given, so tests
// run it without audio hardware or timers. Packets can stop arriving entirely
// when a speaker goes quiet, so callers must also Tick it periodically.
type Debouncer struct {
	mu sync.Mutex

	threshold float64
	window    time.Duration
	now       func() time.Time
	onFlush   func(pcm []int16)

	state      DebounceState
	buffer     []int16
	quietSince time.Time
}

// NewDebouncer creates a debouncer flushing after window of quiet. Frames
// with RMS at or below threshold count as quiet.
func NewDebouncer(threshold float64, window time.Duration, onFlush func(pcm []int16)) *Debouncer {
	return &Debouncer{
		threshold: threshold,
		window:    window,
		now:       time.Now,
		onFlush:   onFlush,
		state:     StateListening,
	}
}

// SetClock replaces the monotonic clock, for tests.
func (d *Debouncer) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Write feeds one frame of mono PCM.
func (d *Debouncer) Write(frame []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if RMS(frame) > d.threshold {
		d.buffer = append(d.buffer, frame...)
		d.state = StateListening
		return
	}

	switch d.state {
	case StateListening:
		if len(d.buffer) == 0 {
			// Leading silence, nothing to flush.
			return
		}
		d.buffer = append(d.buffer, frame...)
		d.state = StateDebouncing
		d.quietSince = d.now()
	case StateDebouncing:
		d.buffer = append(d.buffer, frame...)
		if d.now().Sub(d.quietSince) >= d.window {
			d.flushLocked()
		}
	}
}

// Tick advances the quiet window when no frames are arriving at all.
func (d *Debouncer) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateDebouncing:
		if d.now().Sub(d.quietSince) >= d.window {
			d.flushLocked()
		}
	case StateListening:
		if len(d.buffer) > 0 {
			// Input stopped mid-speech; start the quiet window now.
			d.state = StateDebouncing
			d.quietSince = d.now()
		}
	}
}

// State reports the current state.
func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Debouncer) flushLocked() {
	d.state = StateFlushing
	pcm := make([]int16, len(d.buffer))
	copy(pcm, d.buffer)
	d.buffer = d.buffer[:0]

	if d.onFlush != nil {
		// Callback runs outside the lock; Write during a flush buffers a new
		// utterance.
		d.mu.Unlock()
		d.onFlush(pcm)
		d.mu.Lock()
	}
	d.state = StateListening
}
