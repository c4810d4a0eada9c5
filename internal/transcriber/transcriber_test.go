package transcriber_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxcast/internal/artifact"
	"github.com/MrWong99/voxcast/internal/live"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/internal/transcriber"
	audiomock "github.com/MrWong99/voxcast/pkg/audio/mock"
	"github.com/MrWong99/voxcast/pkg/fault"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
	geminimock "github.com/MrWong99/voxcast/pkg/provider/gemini/mock"
)

type observer struct {
	mu     sync.Mutex
	states []live.State
	text   string
}

func (o *observer) OnState(s live.State, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *observer) OnTranscript(delta string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.text += delta
}

func (o *observer) Text() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.text
}

func (o *observer) States() []live.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.states)
}

type fixture struct {
	gen    *geminimock.Generator
	dialer *geminimock.Dialer
	store  *artifact.Store
	wf     *transcriber.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		gen:    &geminimock.Generator{},
		dialer: &geminimock.Dialer{},
		store:  artifact.NewStore(artifact.WithMetrics(met)),
	}
	f.wf = transcriber.New(f.dialer, f.gen, f.store,
		transcriber.WithMetrics(met),
		transcriber.WithLiveConfig(gemini.LiveConfig{Instructions: "transcribe"}),
	)
	return f
}

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

func TestSessionTranscribeAndSave(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	obs := &observer{}
	sess := f.wf.NewSession(&audiomock.Source{}, obs)
	t.Cleanup(func() { _ = sess.Close() })

	if _, err := sess.Save(context.Background()); !errors.Is(err, transcriber.ErrEmptyTranscript) {
		t.Fatalf("Save before start err = %v, want ErrEmptyTranscript", err)
	}

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cfg := f.dialer.ConnectCalls[0]
	if !cfg.InputTranscription || cfg.Instructions != "transcribe" {
		t.Errorf("live config = %+v", cfg)
	}

	remote := f.dialer.Last()
	remote.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitFor(t, "open", func() bool { return sess.State() == live.Open })
	remote.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "The quick "})
	remote.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "brown fox."})
	waitFor(t, "transcript", func() bool { return obs.Text() == "The quick brown fox." })

	sess.Stop()
	if got := sess.Transcript(); got != "The quick brown fox." {
		t.Errorf("Transcript() = %q", got)
	}

	a, err := sess.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.Name != artifact.TranscriptName || a.ContentType != artifact.TranscriptContentType {
		t.Errorf("artifact = %q %q", a.Name, a.ContentType)
	}
	stored, err := f.store.Get(a.ID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if string(stored.Data) != "The quick brown fox." {
		t.Errorf("stored transcript = %q", stored.Data)
	}

	want := []live.State{live.Connecting, live.Open, live.Closing, live.Closed}
	if got := obs.States(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestSessionRestartResetsTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	obs := &observer{}
	sess := f.wf.NewSession(&audiomock.Source{}, obs)
	t.Cleanup(func() { _ = sess.Close() })

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	remote := f.dialer.Last()
	remote.Emit(gemini.Event{Kind: gemini.EventOpen})
	waitFor(t, "open", func() bool { return sess.State() == live.Open })
	remote.Emit(gemini.Event{Kind: gemini.EventInputTranscript, Text: "first"})
	waitFor(t, "transcript", func() bool { return sess.Transcript() == "first" })
	sess.Stop()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := sess.Transcript(); got != "" {
		t.Errorf("Transcript() after restart = %q, want empty", got)
	}
	if _, err := sess.Save(context.Background()); !errors.Is(err, transcriber.ErrEmptyTranscript) {
		t.Errorf("Save err = %v, want ErrEmptyTranscript", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.wf.NewSession(&audiomock.Source{}, &observer{})
	b := f.wf.NewSession(&audiomock.Source{}, &observer{})
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	if got := f.dialer.CallCount(); got != 2 {
		t.Fatalf("Connect calls = %d, want 2", got)
	}
	a.Stop()
	if got := b.State(); got != live.Connecting {
		t.Errorf("b.State() = %v, want connecting", got)
	}
}

func TestTranscribeFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gen.Text = "hello from the recording"

	got, err := f.wf.TranscribeFile(context.Background(), []byte{1, 2, 3}, "audio/webm")
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if got != "hello from the recording" {
		t.Errorf("text = %q", got)
	}
	if !slices.Equal(f.gen.TranscribeCalls, []string{"audio/webm"}) {
		t.Errorf("TranscribeCalls = %v", f.gen.TranscribeCalls)
	}
}

func TestTranscribeFileEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.wf.TranscribeFile(context.Background(), nil, "audio/wav")
	if !errors.Is(err, fault.ReadFailure) {
		t.Fatalf("err = %v, want ReadFailure", err)
	}
	if len(f.gen.TranscribeCalls) != 0 {
		t.Error("provider called for empty file")
	}
}

func TestTranscribeFileProviderError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gen.TranscribeErr = fault.Translate(gemini.OpTranscribe, errors.New("backend exploded"))

	_, err := f.wf.TranscribeFile(context.Background(), []byte{1}, "audio/wav")
	if fault.KindOf(err) != fault.KindOperationFailed {
		t.Fatalf("kind = %v, want OperationFailed", fault.KindOf(err))
	}
	if msg := fault.UserMessage(err); msg != "Failed to transcribe audio. backend exploded" {
		t.Errorf("UserMessage = %q", msg)
	}
}
