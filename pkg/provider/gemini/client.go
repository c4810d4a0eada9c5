// Package gemini is voxcast's client for the Google Gemini API.
//
// It covers the remote operations the application needs:
//
//   - [Client.GenerateScript] turns source text into a two-speaker
//     [dialogue.Dialogue] using a schema-constrained generateContent call.
//   - [Client.SynthesizeSpeech] reads a dialogue aloud through a Live session
//     and returns the concatenated 24 kHz PCM.
//   - [Client.GenerateScriptFromFile] does the same for a source sent as
//     inline file data.
//   - [Client.TranscribeOnce] transcribes an audio file in a single request.
//   - [Client.Connect] opens a bidirectional Live session used for real-time
//     microphone transcription.
//
// One-shot requests go through google.golang.org/genai. Live sessions speak
// the BidiGenerateContent JSON protocol over a WebSocket directly.
//
// Every error returned by this package is classified with [fault.Translate].
// Nothing here retries; retry is a user action.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/fault"
)

const (
	defaultModel       = "gemini-2.5-flash"
	defaultLiveModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultLiveBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultMaxTurns    = 6

	transcribePrompt = "Listen to this audio and transcribe it."
)

// Operation names used in classified errors and user messages.
const (
	OpGenerateDialogue = "generate dialogue"
	OpGenerateSpeech   = "generate speech via Live API"
	OpTranscribe       = "transcribe audio"
	OpLiveSession      = "open live session"
)

// contentGenerator is the subset of *genai.Models used by the client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model used for script generation and one-shot
// transcription.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLiveModel sets the model used for Live sessions and speech synthesis.
func WithLiveModel(model string) Option {
	return func(c *Client) { c.liveModel = model }
}

// WithLiveBaseURL overrides the Live WebSocket base URL. Primarily used in
// tests to point at a local mock server.
func WithLiveBaseURL(url string) Option {
	return func(c *Client) { c.liveBaseURL = url }
}

// WithBaseURL overrides the REST base URL used for generateContent.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithSpeakers sets the two dialogue speaker labels.
func WithSpeakers(s dialogue.Speakers) Option {
	return func(c *Client) { c.speakers = s }
}

// WithMaxTurns caps the number of dialogue turns requested from the model.
func WithMaxTurns(n int) Option {
	return func(c *Client) { c.maxTurns = n }
}

// WithVoice selects the prebuilt voice used by speech synthesis.
func WithVoice(name string) Option {
	return func(c *Client) { c.voice = name }
}

// WithRequestsPerMinute spaces outgoing requests so that at most n start per
// minute. Requests wait for a slot; they are never retried. Zero disables
// pacing.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
	}
}

// withGenerator replaces the genai backend. Used by tests.
func withGenerator(g contentGenerator) Option {
	return func(c *Client) { c.gen = g }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client talks to the Gemini API. It is safe for concurrent use.
type Client struct {
	apiKey      string
	model       string
	liveModel   string
	baseURL     string
	liveBaseURL string
	speakers    dialogue.Speakers
	maxTurns    int
	voice       string
	limiter     *rate.Limiter

	gen contentGenerator
}

// New creates a Client. apiKey is required.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	c := &Client{
		apiKey:      apiKey,
		model:       defaultModel,
		liveModel:   defaultLiveModel,
		liveBaseURL: defaultLiveBaseURL,
		speakers:    dialogue.DefaultSpeakers,
		maxTurns:    defaultMaxTurns,
	}
	for _, o := range opts {
		o(c)
	}

	if c.gen == nil {
		cc := &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if c.baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
		}
		gc, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("gemini: create genai client: %w", err)
		}
		c.gen = gc.Models
	}
	return c, nil
}

// Speakers returns the dialogue speaker labels used by the client.
func (c *Client) Speakers() dialogue.Speakers { return c.speakers }

// wait blocks until the rate limiter grants a request slot.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GenerateScript asks the model for a short two-speaker dialogue about
// sourceText. The response is constrained to the dialogue JSON schema and
// decoded with [dialogue.Parse].
//
// Errors: [fault.EmptyResponse] for empty or unparseable output,
// [fault.QuotaExceeded] when rate-limited, [fault.OperationFailed] otherwise.
func (c *Client) GenerateScript(ctx context.Context, sourceText string) (dialogue.Dialogue, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	slog.Debug("generating dialogue", "model", c.model, "chars", len(sourceText))

	prompt := dialogue.ScriptPrompt(sourceText, c.speakers, c.maxTurns)
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   dialogueSchema(c.speakers),
	}

	resp, err := c.gen.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fault.Translate(OpGenerateDialogue, err)
	}
	return dialogue.Parse(OpGenerateDialogue, firstText(resp), c.speakers)
}

// GenerateScriptFromFile is GenerateScript for a source that is sent as
// inline file data (audio, PDF, image) instead of extracted text. note is an
// optional user instruction added to the prompt.
func (c *Client) GenerateScriptFromFile(ctx context.Context, note string, data []byte, mimeType string) (dialogue.Dialogue, error) {
	if len(data) == 0 {
		return nil, fault.New(fault.KindOperationFailed, OpGenerateDialogue, "source file is empty")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	slog.Debug("generating dialogue from file", "model", c.model, "bytes", len(data), "mime", mimeType)

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: dialogue.FileScriptPrompt(note, c.speakers, c.maxTurns)},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   dialogueSchema(c.speakers),
	}

	resp, err := c.gen.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fault.Translate(OpGenerateDialogue, err)
	}
	return dialogue.Parse(OpGenerateDialogue, firstText(resp), c.speakers)
}

// TranscribeOnce transcribes an audio file in a single request. A response
// without text yields "" and no error.
func (c *Client) TranscribeOnce(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	slog.Debug("transcribing audio", "model", c.model, "bytes", len(data), "mime", mimeType)

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}
	resp, err := c.gen.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fault.Translate(OpTranscribe, err)
	}
	return firstText(resp), nil
}

// firstText returns the text of the first candidate, concatenating its text
// parts. Returns "" for a nil or empty response.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// dialogueSchema is the genai form of [dialogue.Schema].
func dialogueSchema(s dialogue.Speakers) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"speaker": {
					Type:        genai.TypeString,
					Description: fmt.Sprintf("The speaker's name, either '%s' or '%s'.", s[0], s[1]),
					Enum:        []string{s[0], s[1]},
				},
				"line": {
					Type:        genai.TypeString,
					Description: "The line of dialogue spoken by the speaker.",
				},
			},
			Required: []string{"speaker", "line"},
		},
	}
}
