// Package live owns the lifecycle of one real-time transcription session:
// microphone capture, chunked upload to a Gemini Live session, incremental
// transcript accumulation and teardown.
//
// A [Controller] runs at most one session at a time. Its state machine is
//
//	Idle → Connecting → Open → Closing → Closed
//	             ↘         ↘
//	               Closing → Errored
//
// and every exit path releases the microphone capture, the upload pump and
// the remote session. Events belonging to an earlier session are discarded
// using a generation token that changes on every Start and every teardown.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/pkg/audio"
	"github.com/MrWong99/voxcast/pkg/fault"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
)

// Operation names used for classified errors.
const (
	OpOpenMic        = "open microphone"
	OpStreamAudio    = "stream audio"
	OpTranscribeLive = "transcribe live audio"
)

var (
	// ErrSessionActive is returned by Start while a session is connecting,
	// open or closing.
	ErrSessionActive = errors.New("live: a session is already active")

	// ErrStopped is returned by Start when Stop was called before the
	// session finished connecting.
	ErrStopped = errors.New("live: session stopped while connecting")
)

// State is the lifecycle state of a [Controller].
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Errored
)

// String returns the lower-case state name used on the wire.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether s holds session resources.
func (s State) Active() bool {
	return s == Connecting || s == Open || s == Closing
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Controller.
type Option func(*Controller)

// WithStateHandler registers fn to be called on every state transition. err
// is set for transitions into [Errored]. Handlers run one at a time in
// transition order and must not call back into the Controller.
func WithStateHandler(fn func(s State, err error)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithTranscriptHandler registers fn to be called with every transcript
// fragment appended while the session is open. Same rules as
// [WithStateHandler].
func WithTranscriptHandler(fn func(delta string)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithLiveConfig overrides the Live session configuration. Input
// transcription is always enabled.
func WithLiveConfig(cfg gemini.LiveConfig) Option {
	return func(c *Controller) { c.liveCfg = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// ── Controller ────────────────────────────────────────────────────────────────

// session holds the resources of one started session. closers run in reverse
// order during release.
type session struct {
	gen     uint64
	capture audio.Capture
	remote  gemini.LiveSession
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	closers []func() error

	// wg tracks the event loop and, once open, the upload pump.
	wg sync.WaitGroup
}

// Controller runs live transcription sessions. All exported methods are safe
// for concurrent use.
type Controller struct {
	mic     audio.Source
	dialer  gemini.Dialer
	liveCfg gemini.LiveConfig
	metrics *observe.Metrics

	onState      func(State, error)
	onTranscript func(string)

	mu         sync.Mutex
	state      State
	gen        uint64
	transcript strings.Builder
	lastErr    error
	cur        *session

	// cancelConnect aborts an in-flight Start.
	cancelConnect context.CancelFunc

	// notifyMu serialises handler calls. It is acquired before mu is
	// released so that notifications keep transition order.
	notifyMu sync.Mutex
}

// New returns an idle Controller that captures from mic and streams to
// sessions opened by dialer.
func New(mic audio.Source, dialer gemini.Dialer, opts ...Option) *Controller {
	c := &Controller{mic: mic, dialer: dialer}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.liveCfg.InputTranscription = true
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the text accumulated by the current or most recent
// session.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.String()
}

// Err returns the error that moved the controller into [Errored], or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// unlockAndNotify releases mu and runs fn while holding notifyMu. Must be
// called with mu held.
func (c *Controller) unlockAndNotify(fn func()) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Controller) stateNotice(s State, err error) func() {
	if c.onState == nil {
		return nil
	}
	return func() { c.onState(s, err) }
}

// Start opens the microphone and a remote session concurrently and moves the
// controller to [Connecting]. It returns once both are acquired; the
// transition to [Open] follows when the remote side acknowledges the setup.
//
// Start is valid from Idle, Closed and Errored; otherwise it returns
// [ErrSessionActive] and leaves the running session untouched. The
// transcript is reset. On failure the controller moves to [Errored], every
// acquired resource is released and the classified error is returned:
// [fault.PermissionDenied] for a refused microphone and
// [fault.ConnectionFailure] for a failed handshake.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	gen := c.gen
	c.transcript.Reset()
	c.lastErr = nil
	c.state = Connecting
	connectCtx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.unlockAndNotify(c.stateNotice(Connecting, nil))
	defer cancel()

	capture, remote, err := c.acquire(connectCtx)

	c.mu.Lock()
	if c.gen != gen {
		// Stop won the race; it already reported Closed.
		c.mu.Unlock()
		closeAll(capture, remote)
		return ErrStopped
	}
	c.cancelConnect = nil
	if err != nil {
		c.gen++
		c.state = Errored
		c.lastErr = err
		c.unlockAndNotify(c.stateNotice(Errored, err))
		closeAll(capture, remote)
		observe.Logger(ctx).Warn("live session failed to start", "err", err)
		return err
	}

	sessCtx, sessCancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		gen:     gen,
		capture: capture,
		remote:  remote,
		ctx:     sessCtx,
		cancel:  sessCancel,
		started: time.Now(),
	}
	s.closers = []func() error{remote.Close, capture.Close}
	c.cur = s
	s.wg.Add(1)
	go c.eventLoop(s)
	c.mu.Unlock()

	c.metrics.ActiveLiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("live session connecting", "generation", gen, "sample_rate", capture.SampleRate())
	return nil
}

// acquire opens the microphone and the remote session concurrently. On
// error, whatever was acquired is returned alongside so the caller can
// release it.
func (c *Controller) acquire(ctx context.Context) (audio.Capture, gemini.LiveSession, error) {
	var (
		capture audio.Capture
		remote  gemini.LiveSession
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cp, err := c.mic.Open(gctx)
		if err != nil {
			if errors.Is(err, audio.ErrPermissionDenied) {
				return fault.Wrap(fault.KindPermissionDenied, OpOpenMic, err)
			}
			return fault.Wrap(fault.KindOperationFailed, OpOpenMic, err)
		}
		capture = cp
		return nil
	})
	g.Go(func() error {
		rs, err := c.dialer.Connect(gctx, c.liveCfg)
		if err != nil {
			if fault.IsQuotaMessage(err.Error()) {
				return fault.Translate(gemini.OpLiveSession, err)
			}
			return fault.Wrap(fault.KindConnectionFailure, gemini.OpLiveSession, err)
		}
		remote = rs
		return nil
	})
	err := g.Wait()
	return capture, remote, err
}

func closeAll(capture audio.Capture, remote gemini.LiveSession) {
	if remote != nil {
		_ = remote.Close()
	}
	if capture != nil {
		_ = capture.Close()
	}
}

// Stop ends the session. From Connecting or Open it closes the remote
// session, releases the microphone and the pump and moves to [Closed];
// it returns after all session goroutines have exited. In any other state it
// is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch {
	case c.state == Connecting && c.cur == nil:
		// Still acquiring: invalidate the pending Start, which releases
		// whatever it acquired.
		c.gen++
		if c.cancelConnect != nil {
			c.cancelConnect()
			c.cancelConnect = nil
		}
		c.state = Closed
		c.unlockAndNotify(c.stateNotice(Closed, nil))
		return
	case c.cur != nil && (c.state == Connecting || c.state == Open):
		s := c.cur
		c.mu.Unlock()
		c.teardown(s, nil)
		s.wg.Wait()
		return
	default:
		c.mu.Unlock()
	}
}

// Close tears the controller down. Equivalent to Stop.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// teardown moves session s through Closing into Closed (err == nil) or
// Errored and releases its resources. It is a no-op when s is no longer
// current. It never waits for the session goroutines, so the event loop
// and the pump may call it.
func (c *Controller) teardown(s *session, err error) {
	c.mu.Lock()
	if c.cur != s || c.gen != s.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.cur = nil
	c.state = Closing
	c.unlockAndNotify(c.stateNotice(Closing, nil))

	releaseErr := s.release()
	c.metrics.ActiveLiveSessions.Add(s.ctx, -1)
	observe.ObserveDuration(s.ctx, c.metrics.LiveSessionDuration, s.started)

	final := Closed
	if err != nil {
		final = Errored
	}
	c.mu.Lock()
	c.state = final
	c.lastErr = err
	c.unlockAndNotify(c.stateNotice(final, err))

	l := observe.Logger(s.ctx).With("generation", s.gen, "duration", time.Since(s.started))
	if releaseErr != nil {
		l.Warn("live session released with errors", "err", releaseErr)
	}
	if err != nil {
		l.Warn("live session ended with error", "err", err)
		return
	}
	l.Info("live session closed")
}

// release cancels the session goroutines and runs the closers in reverse
// order.
func (s *session) release() error {
	s.cancel()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// current reports whether s is the live session and the controller is in
// one of the given states. Must be called with mu held.
func (c *Controller) current(s *session, states ...State) bool {
	if c.cur != s || c.gen != s.gen {
		return false
	}
	for _, st := range states {
		if c.state == st {
			return true
		}
	}
	return false
}

// eventLoop consumes remote events in arrival order until the session ends.
func (c *Controller) eventLoop(s *session) {
	defer s.wg.Done()
	events := s.remote.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if err := s.remote.Err(); err != nil {
					c.teardown(s, fault.Translate(OpTranscribeLive, err))
				} else {
					c.teardown(s, nil)
				}
				return
			}
			if !c.handle(s, ev) {
				return
			}
		}
	}
}

// handle applies one remote event. It returns false when the session ended.
func (c *Controller) handle(s *session, ev gemini.Event) bool {
	switch ev.Kind {
	case gemini.EventOpen:
		c.mu.Lock()
		if !c.current(s, Connecting) {
			c.mu.Unlock()
			return true
		}
		c.state = Open
		s.wg.Add(1)
		go c.pump(s)
		c.unlockAndNotify(c.stateNotice(Open, nil))
		slog.Debug("live session open", "generation", s.gen)

	case gemini.EventInputTranscript:
		c.mu.Lock()
		if !c.current(s, Open) {
			c.mu.Unlock()
			return true
		}
		c.transcript.WriteString(ev.Text)
		var notice func()
		if c.onTranscript != nil {
			text := ev.Text
			notice = func() { c.onTranscript(text) }
		}
		c.unlockAndNotify(notice)
		c.metrics.TranscriptDeltas.Add(s.ctx, 1)

	case gemini.EventError:
		c.teardown(s, fault.Translate(OpTranscribeLive, ev.Err))
		return false
	}
	return true
}

// pump is the audio graph: it forwards capture frames to the remote session
// one at a time, in capture order, resampling to 16 kHz when needed.
func (c *Controller) pump(s *session) {
	defer s.wg.Done()
	enc := &audio.UploadEncoder{SourceRate: s.capture.SampleRate()}
	frames := s.capture.Frames()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// The browser stopped capturing.
				c.teardown(s, nil)
				return
			}
			if len(frame) == 0 {
				continue
			}
			if err := s.remote.SendAudio(enc.Encode(frame)); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				c.teardown(s, fault.Wrap(fault.KindConnectionFailure, OpStreamAudio, err))
				return
			}
			c.metrics.AudioChunks.Add(s.ctx, 1)
		}
	}
}
