package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxcast/pkg/audio"
)

// captureBuffer is the number of frames a browser capture holds. Frames that
// arrive while it is full are dropped so that the WebSocket reader never
// blocks; before the remote session opens nothing drains it.
const captureBuffer = 32

var errSocketClosed = errors.New("web: live socket closed")

// micReply is the browser's answer to a microphone request.
type micReply struct {
	sampleRate int
	denied     string
	err        error
}

// browserMic is an [audio.Source] whose device is the browser at the other
// end of a live WebSocket. Open asks the browser for the microphone and waits
// for mic_ready or mic_denied; binary frames then feed the open capture.
type browserMic struct {
	request func(ctx context.Context) error

	mu      sync.Mutex
	pending chan micReply
	capture *browserCapture
	closed  bool
}

var _ audio.Source = (*browserMic)(nil)

func newBrowserMic(request func(ctx context.Context) error) *browserMic {
	return &browserMic{request: request}
}

// Open implements [audio.Source].
func (m *browserMic) Open(ctx context.Context) (audio.Capture, error) {
	reply := make(chan micReply, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errSocketClosed
	}
	m.pending = reply
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.pending == reply {
			m.pending = nil
		}
		m.mu.Unlock()
	}()

	if err := m.request(ctx); err != nil {
		return nil, fmt.Errorf("web: request microphone: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		switch {
		case r.err != nil:
			return nil, r.err
		case r.denied != "":
			return nil, fmt.Errorf("%w: %s", audio.ErrPermissionDenied, r.denied)
		case r.sampleRate <= 0:
			return nil, fmt.Errorf("web: browser reported sample rate %d", r.sampleRate)
		}
		c := newBrowserCapture(r.sampleRate)
		m.mu.Lock()
		if m.capture != nil {
			_ = m.capture.Close()
		}
		m.capture = c
		m.mu.Unlock()
		return c, nil
	}
}

// answer delivers the browser's reply to a waiting Open. Replies without a
// pending request are dropped and reported as false.
func (m *browserMic) answer(r micReply) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return false
	}
	select {
	case m.pending <- r:
		m.pending = nil
		return true
	default:
		return false
	}
}

// push forwards a frame to the open capture. Frames arriving while no capture
// is open are dropped.
func (m *browserMic) push(frame []float32) {
	m.mu.Lock()
	c := m.capture
	m.mu.Unlock()
	if c != nil {
		c.push(frame)
	}
}

// shutdown fails any pending Open and ends the open capture. Used when the
// socket goes away.
func (m *browserMic) shutdown() {
	m.mu.Lock()
	m.closed = true
	c := m.capture
	m.capture = nil
	if m.pending != nil {
		select {
		case m.pending <- micReply{err: errSocketClosed}:
		default:
		}
		m.pending = nil
	}
	m.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// browserCapture is an [audio.Capture] fed by WebSocket binary frames.
type browserCapture struct {
	rate   int
	frames chan []float32
	done   chan struct{}

	mu       sync.RWMutex
	closed   bool
	doneOnce sync.Once

	dropped atomic.Int64
}

var _ audio.Capture = (*browserCapture)(nil)

func newBrowserCapture(rate int) *browserCapture {
	return &browserCapture{
		rate:   rate,
		frames: make(chan []float32, captureBuffer),
		done:   make(chan struct{}),
	}
}

// push buffers the frame without blocking. It reports false when the capture
// is closed or the buffer is full, in which case the frame is dropped.
func (c *browserCapture) push(frame []float32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	case <-c.done:
		return false
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Debug("live: capture buffer full, dropping frames", "dropped", n)
		}
		return false
	}
}

// Dropped returns how many frames were discarded because the buffer was full.
func (c *browserCapture) Dropped() int64 { return c.dropped.Load() }

func (c *browserCapture) Frames() <-chan []float32 { return c.frames }

func (c *browserCapture) SampleRate() int { return c.rate }

// Close ends the capture. Safe to call more than once.
func (c *browserCapture) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}
