// Package podcast turns source text or an uploaded document into a
// two-speaker audio podcast: script generation, speech synthesis and WAV
// packaging, with the result stored as a downloadable artifact.
package podcast

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/MrWong99/voxcast/internal/artifact"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/pkg/audio"
	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
)

// ErrEmptyInput is returned when there is no source text to work from.
var ErrEmptyInput = errors.New("Please enter some text to generate a podcast from.")

// Step is a user-visible progress label.
type Step string

const (
	StepExtracting Step = "Extracting text..."
	StepScript     Step = "Generating dialogue script..."
	StepSpeech     Step = "Synthesizing audio..."
)

// ProgressFunc receives progress steps in order. It may be nil.
type ProgressFunc func(Step)

// ScriptWriter turns source text into a dialogue.
type ScriptWriter interface {
	GenerateScript(ctx context.Context, sourceText string) (dialogue.Dialogue, error)
}

// Synthesizer reads a dialogue aloud and returns 24 kHz mono PCM.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, d dialogue.Dialogue) ([]byte, error)
}

// Extractor turns an uploaded document into text.
type Extractor interface {
	Extract(name string, r io.Reader) (string, error)
}

// Compile-time assertions.
var (
	_ ScriptWriter = (*gemini.Client)(nil)
	_ Synthesizer  = (*gemini.Client)(nil)
)

// Result is a finished podcast.
type Result struct {
	// SourceText is the text the script was written from.
	SourceText string

	// Dialogue is the generated script in reading order.
	Dialogue dialogue.Dialogue

	// WAV is the playable container.
	WAV []byte

	// Artifact is the stored download of WAV.
	Artifact artifact.Artifact
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// Workflow orchestrates podcast generation. It is stateless apart from its
// collaborators and safe for concurrent use.
type Workflow struct {
	writer    ScriptWriter
	synth     Synthesizer
	extractor Extractor
	store     *artifact.Store
	metrics   *observe.Metrics
}

// New returns a Workflow.
func New(writer ScriptWriter, synth Synthesizer, extractor Extractor, store *artifact.Store, opts ...Option) *Workflow {
	w := &Workflow{
		writer:    writer,
		synth:     synth,
		extractor: extractor,
		store:     store,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Generate writes a script about text, synthesizes it and stores the WAV as
// [artifact.PodcastName]. Blank text fails with [ErrEmptyInput] before any
// remote call. Provider failures are returned classified and unchanged.
func (w *Workflow) Generate(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	report(progress, StepScript)

	sctx, finish := w.metrics.Operation(ctx, gemini.OpGenerateDialogue, w.metrics.ScriptDuration)
	d, err := w.writer.GenerateScript(sctx, text)
	finish(err)
	if err != nil {
		return nil, err
	}

	report(progress, StepSpeech)
	sctx, finish = w.metrics.Operation(ctx, gemini.OpGenerateSpeech, w.metrics.SpeechDuration)
	pcm, err := w.synth.SynthesizeSpeech(sctx, d)
	finish(err)
	if err != nil {
		return nil, err
	}

	wav := audio.PackageWAV(pcm, audio.SynthesisSampleRate, audio.SynthesisChannels)
	a := w.store.Put(ctx, artifact.PodcastName, artifact.PodcastContentType, wav)

	observe.Logger(ctx).Info("podcast generated",
		"turns", len(d),
		"audio_bytes", len(wav),
		"artifact", a.ID,
	)
	return &Result{SourceText: text, Dialogue: d, WAV: wav, Artifact: a}, nil
}

// GenerateFromFile extracts the text of the uploaded document name and runs
// [Workflow.Generate] on it.
func (w *Workflow) GenerateFromFile(ctx context.Context, name string, r io.Reader, progress ProgressFunc) (*Result, error) {
	report(progress, StepExtracting)
	text, err := w.extractor.Extract(name, r)
	if err != nil {
		return nil, err
	}
	return w.Generate(ctx, text, progress)
}

func report(fn ProgressFunc, s Step) {
	if fn != nil {
		fn(s)
	}
}
