// Package transcriber wires live microphone transcription and one-shot file
// transcription to the rest of voxcast.
//
// A [Workflow] is shared by the whole process. Each connected client gets its
// own [Session], which owns one [live.Controller] and forwards its state and
// transcript notifications to an [Observer].
package transcriber

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/voxcast/internal/artifact"
	"github.com/MrWong99/voxcast/internal/live"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/pkg/audio"
	"github.com/MrWong99/voxcast/pkg/fault"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
)

// ErrEmptyTranscript is returned by [Session.Save] when nothing has been
// transcribed yet.
var ErrEmptyTranscript = errors.New("No transcript to save yet.")

// OpTranscribeFile labels failures of [Workflow.TranscribeFile].
const OpTranscribeFile = gemini.OpTranscribe

// FileTranscriber transcribes a complete audio file in one request.
type FileTranscriber interface {
	TranscribeOnce(ctx context.Context, data []byte, mimeType string) (string, error)
}

var _ FileTranscriber = (*gemini.Client)(nil)

// Observer receives notifications from a [Session]. Calls are serialised and
// arrive in the order the controller produced them. Implementations must not
// call back into the session.
type Observer interface {
	// OnState is called on every state transition. err is set for Errored.
	OnState(s live.State, err error)

	// OnTranscript is called with each transcript fragment appended.
	OnTranscript(delta string)
}

// Option configures a [Workflow].
type Option func(*Workflow)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithLiveConfig sets the live session parameters used for every session.
// Input transcription is always enabled.
func WithLiveConfig(cfg gemini.LiveConfig) Option {
	return func(w *Workflow) { w.liveCfg = cfg }
}

// Workflow creates live transcription sessions and runs one-shot file
// transcription. It is safe for concurrent use.
type Workflow struct {
	dialer  gemini.Dialer
	files   FileTranscriber
	store   *artifact.Store
	metrics *observe.Metrics
	liveCfg gemini.LiveConfig
}

// New returns a Workflow.
func New(dialer gemini.Dialer, files FileTranscriber, store *artifact.Store, opts ...Option) *Workflow {
	w := &Workflow{
		dialer: dialer,
		files:  files,
		store:  store,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// TranscribeFile transcribes a recorded audio file. Empty data fails with
// [fault.ReadFailure] without contacting the provider.
func (w *Workflow) TranscribeFile(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fault.New(fault.KindReadFailure, OpTranscribeFile, "file is empty")
	}
	ctx, finish := w.metrics.Operation(ctx, OpTranscribeFile, w.metrics.TranscribeDuration)
	text, err := w.files.TranscribeOnce(ctx, data, mimeType)
	finish(err)
	return text, err
}

// NewSession returns a live transcription session that captures from mic and
// reports to obs. The caller must Close it.
func (w *Workflow) NewSession(mic audio.Source, obs Observer) *Session {
	s := &Session{store: w.store}
	s.ctrl = live.New(mic, w.dialer,
		live.WithLiveConfig(w.liveCfg),
		live.WithMetrics(w.metrics),
		live.WithStateHandler(obs.OnState),
		live.WithTranscriptHandler(obs.OnTranscript),
	)
	return s
}

// Session is one client's live transcription.
type Session struct {
	ctrl  *live.Controller
	store *artifact.Store
}

// Start begins capturing and transcribing. The transcript of any previous
// run is discarded.
func (s *Session) Start(ctx context.Context) error { return s.ctrl.Start(ctx) }

// Stop ends the running session, if any. The transcript is kept.
func (s *Session) Stop() { s.ctrl.Stop() }

// State returns the current controller state.
func (s *Session) State() live.State { return s.ctrl.State() }

// Transcript returns everything transcribed since the last Start.
func (s *Session) Transcript() string { return s.ctrl.Transcript() }

// Save stores the current transcript as a downloadable [artifact.TranscriptName].
func (s *Session) Save(ctx context.Context) (artifact.Artifact, error) {
	text := s.ctrl.Transcript()
	if strings.TrimSpace(text) == "" {
		return artifact.Artifact{}, ErrEmptyTranscript
	}
	a := s.store.Put(ctx, artifact.TranscriptName, artifact.TranscriptContentType, []byte(text))
	observe.Logger(ctx).Info("transcript saved", "artifact", a.ID, "bytes", len(text))
	return a, nil
}

// Close stops the session and releases the controller.
func (s *Session) Close() error { return s.ctrl.Close() }
