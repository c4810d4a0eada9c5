// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Capture] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(16000, 8)
//	src := &mock.Source{Capture: capture}
//	got, err := src.Open(ctx)
//	capture.Push([]float32{0.1, 0.2})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcast/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture] backed by a buffered
// channel. Push frames with [Capture.Push].
type Capture struct {
	mu     sync.Mutex
	frames chan []float32
	rate   int
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns a Capture with the given sample rate and frame buffer.
func NewCapture(sampleRate, buffer int) *Capture {
	return &Capture{
		frames: make(chan []float32, buffer),
		rate:   sampleRate,
	}
}

// Push delivers a frame. It returns false when the capture is closed.
func (c *Capture) Push(frame []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames <- frame
	return true
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan []float32 { return c.frames }

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int { return c.rate }

// Close implements [audio.Capture].
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.frames)
	return nil
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Capture is returned by Open. If nil, Open returns a fresh 16 kHz capture
	// on every call; the most recent one is available via [Source.Last].
	Capture *Capture

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	last *Capture
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	c := s.Capture
	if c == nil {
		c = NewCapture(audio.UploadSampleRate, 16)
	}
	s.last = c
	return c, nil
}

// Last returns the capture handed out by the most recent successful Open.
func (s *Source) Last() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
