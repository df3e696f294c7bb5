package audio

import (
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	captureRate      = 16000
	captureFrameSize = 320 // 20ms
	silenceThreshRMS = 0.015
	silenceDuration  = 600 * time.Millisecond
	maxUtterance     = 15 * time.Second
)

// Capture owns the portaudio lifecycle for the local microphone.
type Capture struct{}

func NewCapture() (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &Capture{}, nil
}

func (c *Capture) Close() {
	portaudio.Terminate()
}

// RecordUtterance records 16kHz mono PCM from the default microphone until
// the speaker has been quiet for a while, or the utterance hits the length
// cap. Leading silence is discarded. A window with no speech at all returns
// nil samples and no error, so callers can keep listening.
func (c *Capture) RecordUtterance() ([]int16, error) {
	buf := make([]int16, captureFrameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, captureRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	return collectUtterance(buf, stream.Read)
}

// collectUtterance runs the silence-gated recording loop over a frame
// source. readFrame fills buf with the next frame.
func collectUtterance(buf []int16, readFrame func() error) ([]int16, error) {
	var (
		out           []int16
		speaking      bool
		silenceFrames int
	)

	frameDur := time.Second * time.Duration(len(buf)) / captureRate
	maxFrames := int(maxUtterance / frameDur)
	quietFrames := int(silenceDuration / frameDur)

	for i := 0; i < maxFrames; i++ {
		if err := readFrame(); err != nil {
			return nil, err
		}

		if RMS(buf) > silenceThreshRMS {
			speaking = true
			silenceFrames = 0
			out = append(out, buf...)
			continue
		}

		if speaking {
			silenceFrames++
			out = append(out, buf...)
			if silenceFrames >= quietFrames {
				break
			}
		}
	}

	return out, nil
}

// SampleRate reports the capture rate of RecordUtterance.
func (c *Capture) SampleRate() int { return captureRate }
