// Package anyllm provides a dialogue script writer backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// It lets podcast scripts be written by a different vendor than the one that
// synthesizes speech. The prompt, parsing and error classification are the
// same as for the Gemini client.
//
// Usage:
//
//	w, err := anyllm.New("openai", "gpt-4o", anyllm.WithBackendOptions(anyllmlib.WithAPIKey("sk-...")))
//	w, err := anyllm.NewAnthropic("claude-3-5-sonnet-latest", anyllm.WithBackendOptions(anyllmlib.WithAPIKey("sk-ant-...")))
package anyllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/fault"
)

// OpGenerateDialogue labels failures of [Writer.GenerateScript].
const OpGenerateDialogue = "generate dialogue"

const (
	defaultMaxTurns    = 6
	defaultTemperature = 0.7
)

const systemPrompt = "You write podcast scripts. Reply with JSON only, no prose and no code fences."

// Option configures a [Writer].
type Option func(*Writer)

// WithBackendOptions passes any-llm-go configuration (API key, base URL) to
// the backend. Without an API key option the backend falls back to its
// environment variable (e.g. OPENAI_API_KEY).
func WithBackendOptions(opts ...anyllmlib.Option) Option {
	return func(w *Writer) { w.backendOpts = append(w.backendOpts, opts...) }
}

// WithSpeakers sets the two speaker labels. Defaults to [dialogue.DefaultSpeakers].
func WithSpeakers(s dialogue.Speakers) Option {
	return func(w *Writer) { w.speakers = s }
}

// WithMaxTurns caps the number of turns requested from the model.
func WithMaxTurns(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxTurns = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(w *Writer) { w.temperature = t }
}

// WithMaxTokens caps the completion length. Zero leaves the backend default.
func WithMaxTokens(n int) Option {
	return func(w *Writer) { w.maxTokens = n }
}

// Writer generates dialogue scripts through any-llm-go.
type Writer struct {
	backend     anyllmlib.Provider
	backendOpts []anyllmlib.Option
	model       string
	speakers    dialogue.Speakers
	maxTurns    int
	temperature float64
	maxTokens   int
}

// New creates a Writer backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
func New(providerName, model string, opts ...Option) (*Writer, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	w := &Writer{
		model:       model,
		speakers:    dialogue.DefaultSpeakers,
		maxTurns:    defaultMaxTurns,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(w)
	}

	backend, err := createBackend(providerName, w.backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	w.backend = backend
	return w, nil
}

// NewOpenAI creates a Writer backed by OpenAI.
// Without an API key option, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, opts ...Option) (*Writer, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Writer backed by Anthropic.
// Without an API key option, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...Option) (*Writer, error) {
	return New("anthropic", model, opts...)
}

// NewOllama creates a Writer backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...Option) (*Writer, error) {
	return New("ollama", model, opts...)
}

// Providers lists the accepted provider names.
var Providers = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(Providers, ", "))
	}
}

// Speakers returns the configured speaker labels.
func (w *Writer) Speakers() dialogue.Speakers { return w.speakers }

// GenerateScript asks the backend for a two-speaker dialogue about sourceText
// and decodes it with [dialogue.Parse].
//
// Errors: [fault.EmptyResponse] for empty or unparseable output,
// [fault.QuotaExceeded] when rate-limited, [fault.OperationFailed] otherwise.
func (w *Writer) GenerateScript(ctx context.Context, sourceText string) (dialogue.Dialogue, error) {
	slog.Debug("generating dialogue", "model", w.model, "chars", len(sourceText))

	resp, err := w.backend.Completion(ctx, w.buildParams(sourceText))
	if err != nil {
		return nil, fault.Translate(OpGenerateDialogue, err)
	}
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.ContentString()
	}
	if resp.Usage != nil {
		slog.Debug("dialogue generated",
			"model", w.model,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	return dialogue.Parse(OpGenerateDialogue, text, w.speakers)
}

// buildParams assembles the completion request for sourceText.
func (w *Writer) buildParams(sourceText string) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model: w.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: dialogue.ScriptPrompt(sourceText, w.speakers, w.maxTurns)},
		},
	}
	if w.temperature != 0 {
		t := w.temperature
		params.Temperature = &t
	}
	if w.maxTokens > 0 {
		mt := w.maxTokens
		params.MaxTokens = &mt
	}
	return params
}
