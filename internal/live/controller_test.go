package live_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxcast/internal/live"
	"github.com/MrWong99/voxcast/pkg/audio"
	audiomock "github.com/MrWong99/voxcast/pkg/audio/mock"
	"github.com/MrWong99/voxcast/pkg/fault"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
	geminimock "github.com/MrWong99/voxcast/pkg/provider/gemini/mock"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// recorder collects state notifications and transcript deltas.
type recorder struct {
	mu     sync.Mutex
	states []live.State
	deltas []string
}

func (r *recorder) onState(s live.State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) onTranscript(d string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

func (r *recorder) States() []live.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func (r *recorder) Deltas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.deltas)
}

type fixture struct {
	mic    *audiomock.Source
	dialer *geminimock.Dialer
	rec    *recorder
	ctrl   *live.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mic:    &audiomock.Source{},
		dialer: &geminimock.Dialer{},
		rec:    &recorder{},
	}
	f.ctrl = live.New(f.mic, f.dialer,
		live.WithStateHandler(f.rec.onState),
		live.WithTranscriptHandler(f.rec.onTranscript),
	)
	t.Cleanup(func() { _ = f.ctrl.Close() })
	return f
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitState(t *testing.T, c *live.Controller, want live.State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

// open starts a session and drives it to Open.
func (f *fixture) open(t *testing.T) (*audiomock.Capture, *geminimock.Session) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.dialer.Last()
	sess.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitState(t, f.ctrl, live.Open)
	return f.mic.Last(), sess
}

func assertReleased(t *testing.T, capture *audiomock.Capture, sess *geminimock.Session) {
	t.Helper()
	if capture != nil && !capture.Closed() {
		t.Error("microphone capture was not released")
	}
	if sess != nil && !sess.Closed() {
		t.Error("remote session was not closed")
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestStop_FromIdleIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.ctrl.Stop()
	if got := f.ctrl.State(); got != live.Idle {
		t.Errorf("State() = %v, want idle", got)
	}
	if got := f.rec.States(); len(got) != 0 {
		t.Errorf("unexpected notifications %v", got)
	}
}

func TestSession_FullCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	capture, sess := f.open(t)
	if cfg := f.dialer.ConnectCalls[0]; !cfg.InputTranscription {
		t.Error("live session must request input transcription")
	}

	capture.Push([]float32{0.5, -0.5})
	<-sess.AudioSent()

	sess.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "Hello "})
	sess.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "world"})
	waitFor(t, "transcript", func() bool { return f.ctrl.Transcript() == "Hello world" })

	f.ctrl.Stop()
	if got := f.ctrl.State(); got != live.Closed {
		t.Errorf("State() = %v, want closed", got)
	}
	assertReleased(t, capture, sess)

	want := []live.State{live.Connecting, live.Open, live.Closing, live.Closed}
	if got := f.rec.States(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if got := f.rec.Deltas(); !slices.Equal(got, []string{"Hello ", "world"}) {
		t.Errorf("deltas = %v", got)
	}
	if got := f.ctrl.Transcript(); got != "Hello world" {
		t.Errorf("transcript after stop = %q, want it kept", got)
	}

	// Stop is idempotent.
	f.ctrl.Stop()
	if got := f.ctrl.State(); got != live.Closed {
		t.Errorf("State() after second Stop = %v", got)
	}
}

func TestStart_TwiceLeavesOneSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.open(t)
	if err := f.ctrl.Start(context.Background()); !errors.Is(err, live.ErrSessionActive) {
		t.Fatalf("second Start err = %v, want ErrSessionActive", err)
	}
	if got := f.dialer.CallCount(); got != 1 {
		t.Errorf("Connect calls = %d, want 1", got)
	}
	if got := f.mic.CallCountOpen; got != 1 {
		t.Errorf("mic opens = %d, want 1", got)
	}
	if got := f.ctrl.State(); got != live.Open {
		t.Errorf("State() = %v, want open", got)
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mic.OpenErr = fmt.Errorf("browser: %w", audio.ErrPermissionDenied)

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, fault.PermissionDenied) {
		t.Fatalf("err = %v, want PermissionDenied", err)
	}
	if got := f.ctrl.State(); got != live.Errored {
		t.Errorf("State() = %v, want errored", got)
	}
	if !errors.Is(f.ctrl.Err(), fault.PermissionDenied) {
		t.Errorf("Err() = %v", f.ctrl.Err())
	}
	// The remote session may or may not have been opened; if so it is closed.
	for _, s := range f.dialer.Sessions() {
		assertReleased(t, nil, s)
	}
}

func TestStart_ConnectionFailureThenRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.dialer.ConnectErr = errors.New("dial tcp: connection refused")

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, fault.ConnectionFailure) {
		t.Fatalf("err = %v, want ConnectionFailure", err)
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Op != gemini.OpLiveSession {
		t.Errorf("err = %#v, want op %q", err, gemini.OpLiveSession)
	}
	if got := f.ctrl.State(); got != live.Errored {
		t.Fatalf("State() = %v, want errored", got)
	}
	waitFor(t, "mic release", func() bool { return f.mic.Last() == nil || f.mic.Last().Closed() })

	f.dialer.ConnectErr = nil
	capture, sess := f.open(t)
	if capture == nil || sess == nil {
		t.Fatal("restart did not acquire resources")
	}
}

func TestStart_QuotaOnConnect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.dialer.ConnectErr = errors.New("RESOURCE_EXHAUSTED: retry in 4s")

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, fault.QuotaExceeded) {
		t.Fatalf("err = %v, want QuotaExceeded", err)
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.dialer.Block = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.Start(context.Background()) }()
	waitState(t, f.ctrl, live.Connecting)
	waitFor(t, "connect call", func() bool { return f.dialer.CallCount() == 1 })

	f.ctrl.Stop()
	if got := f.ctrl.State(); got != live.Closed {
		t.Errorf("State() = %v, want closed", got)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, live.ErrStopped) {
			t.Errorf("Start err = %v, want ErrStopped", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if c := f.mic.Last(); c != nil && !c.Closed() {
		t.Error("microphone acquired during Connecting was not released")
	}
	if got := f.ctrl.State(); got != live.Closed {
		t.Errorf("State() after Start returned = %v, want closed", got)
	}
}

func TestStop_BeforeOpenAck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.ctrl.State(); got != live.Connecting {
		t.Fatalf("State() = %v, want connecting", got)
	}
	f.ctrl.Stop()
	if got := f.ctrl.State(); got != live.Closed {
		t.Errorf("State() = %v, want closed", got)
	}
	assertReleased(t, f.mic.Last(), f.dialer.Last())
}

// ── Remote events ─────────────────────────────────────────────────────────────

func TestRemoteError_ErrorsAndReleases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	capture, sess := f.open(t)

	sess.Emit(gemini.Event{Kind: gemini.EventError, Err: errors.New("internal error")})
	waitState(t, f.ctrl, live.Errored)
	waitFor(t, "release", func() bool { return capture.Closed() && sess.Closed() })

	if !errors.Is(f.ctrl.Err(), fault.OperationFailed) {
		t.Errorf("Err() = %v, want OperationFailed", f.ctrl.Err())
	}
	want := []live.State{live.Connecting, live.Open, live.Closing, live.Errored}
	if got := f.rec.States(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	// No leaked handle blocks re-entry.
	f.open(t)
	if got := f.dialer.CallCount(); got != 2 {
		t.Errorf("Connect calls = %d, want 2", got)
	}
}

func TestRemoteClose_Clean(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	capture, sess := f.open(t)

	sess.End(nil)
	waitState(t, f.ctrl, live.Closed)
	waitFor(t, "release", func() bool { return capture.Closed() })
	if f.ctrl.Err() != nil {
		t.Errorf("Err() = %v, want nil", f.ctrl.Err())
	}
}

func TestRemoteClose_QuotaError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, sess := f.open(t)

	sess.End(errors.New("gemini: session closed (1008): Quota exceeded"))
	waitState(t, f.ctrl, live.Errored)
	if !errors.Is(f.ctrl.Err(), fault.QuotaExceeded) {
		t.Errorf("Err() = %v, want QuotaExceeded", f.ctrl.Err())
	}
}

func TestErrorWhileConnecting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.dialer.Last()
	sess.Emit(gemini.Event{Kind: gemini.EventError, Err: errors.New("bad setup")})
	waitState(t, f.ctrl, live.Errored)
	assertReleased(t, f.mic.Last(), sess)
}

func TestMicrophoneEnds_Closes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	capture, sess := f.open(t)

	_ = capture.Close()
	waitState(t, f.ctrl, live.Closed)
	waitFor(t, "remote close", sess.Closed)
}

func TestTranscript_IgnoredOutsideOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.dialer.Last()

	// Arrives before the open acknowledgement.
	sess.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "early"})
	sess.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitState(t, f.ctrl, live.Open)
	sess.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "kept"})
	waitFor(t, "transcript", func() bool { return f.ctrl.Transcript() == "kept" })
}

func TestStaleSession_DoesNotResurrect(t *testing.T) {
	t.Parallel()
	mic := &audiomock.Source{}
	first := geminimock.NewSession()
	dialer := &geminimock.Dialer{Session: first}
	ctrl := live.New(mic, dialer)
	t.Cleanup(func() { _ = ctrl.Close() })

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitState(t, ctrl, live.Open)
	first.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "old"})
	waitFor(t, "old transcript", func() bool { return ctrl.Transcript() == "old" })
	ctrl.Stop()

	second := geminimock.NewSession()
	dialer.Session = second
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := ctrl.Transcript(); got != "" {
		t.Errorf("transcript not reset on Start: %q", got)
	}

	// The first session is gone; its stream is closed and cannot reach the
	// controller.
	if first.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "stale"}) {
		t.Error("stopped session still accepts events")
	}
	second.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitState(t, ctrl, live.Open)
	second.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "new"})
	waitFor(t, "new transcript", func() bool { return ctrl.Transcript() == "new" })
}

// ── Upload ────────────────────────────────────────────────────────────────────

func TestUpload_FIFO(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	capture, sess := f.open(t)

	const n = 10
	var want [][]byte
	for i := range n {
		frame := []float32{float32(i) / n, -float32(i) / n}
		want = append(want, audio.EncodeForUpload(frame).Data)
		capture.Push(frame)
	}
	waitFor(t, "uploads", func() bool { return len(sess.Audio()) == n })

	got := sess.Audio()
	for i := range want {
		if string(got[i]) != string(want[i]) {
			t.Fatalf("chunk %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUpload_ResamplesToUploadRate(t *testing.T) {
	t.Parallel()
	capture := audiomock.NewCapture(48000, 4)
	mic := &audiomock.Source{Capture: capture}
	dialer := &geminimock.Dialer{}
	ctrl := live.New(mic, dialer)
	t.Cleanup(func() { _ = ctrl.Close() })

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := dialer.Last()
	sess.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitState(t, ctrl, live.Open)

	capture.Push(make([]float32, 4800))
	<-sess.AudioSent()
	got := sess.Audio()[0]
	if want := 1600 * 2; len(got) != want {
		t.Errorf("uploaded %d bytes, want %d (1600 samples at 16 kHz)", len(got), want)
	}
}

func TestUpload_SendFailureErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	capture, sess := f.open(t)
	sess.SendAudioErr = errors.New("broken pipe")

	capture.Push([]float32{0.1})
	waitState(t, f.ctrl, live.Errored)
	if !errors.Is(f.ctrl.Err(), fault.ConnectionFailure) {
		t.Errorf("Err() = %v, want ConnectionFailure", f.ctrl.Err())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[live.State]string{
		live.Idle:       "idle",
		live.Connecting: "connecting",
		live.Open:       "open",
		live.Closing:    "closing",
		live.Closed:     "closed",
		live.Errored:    "errored",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
