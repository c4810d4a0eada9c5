package anyllm

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/fault"
)

// ── Fake OpenAI-compatible server ─────────────────────────────────────────────

type chatServer struct {
	mu       sync.Mutex
	requests []map[string]any

	status  int
	content string
	errBody string
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if s.status != 0 && s.status != http.StatusOK {
		w.Header().Set("Retry-After-Ms", "1")
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.errBody)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": s.content},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (s *chatServer) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func newTestWriter(t *testing.T, srv *chatServer, opts ...Option) *Writer {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	opts = append([]Option{WithBackendOptions(
		anyllmlib.WithAPIKey("sk-test"),
		anyllmlib.WithBaseURL(ts.URL+"/v1"),
	)}, opts...)
	w, err := NewOpenAI("gpt-4o", opts...)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	return w
}

// ── GenerateScript ────────────────────────────────────────────────────────────

func TestGenerateScript_ParsesFencedJSON(t *testing.T) {
	srv := &chatServer{content: "```json\n[{\"speaker\":\"Alex\",\"line\":\"Why is the sky blue?\"},{\"speaker\":\"Ben\",\"line\":\"Scattering.\"}]\n```"}
	w := newTestWriter(t, srv)

	d, err := w.GenerateScript(t.Context(), "The sky is blue because of Rayleigh scattering.")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if len(d) != 2 || d[0].Speaker != "Alex" || d[1].Line != "Scattering." {
		t.Fatalf("dialogue = %+v", d)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0]["model"] != "gpt-4o" {
		t.Errorf("model = %v", reqs[0]["model"])
	}
	msgs, _ := reqs[0]["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	if content, _ := user["content"].(string); !strings.Contains(content, "Rayleigh scattering") {
		t.Errorf("user prompt does not carry the source text: %q", content)
	}
}

func TestGenerateScript_EmptyResponse(t *testing.T) {
	w := newTestWriter(t, &chatServer{content: ""})

	_, err := w.GenerateScript(t.Context(), "text")
	if !errors.Is(err, fault.EmptyResponse) {
		t.Fatalf("err = %v, want EmptyResponse", err)
	}
}

func TestGenerateScript_UnknownSpeaker(t *testing.T) {
	w := newTestWriter(t, &chatServer{content: `[{"speaker":"Carol","line":"hi"}]`})

	_, err := w.GenerateScript(t.Context(), "text")
	if err == nil {
		t.Fatal("expected an error for an unknown speaker")
	}
}

func TestGenerateScript_CustomSpeakers(t *testing.T) {
	w := newTestWriter(t,
		&chatServer{content: `[{"speaker":"Ann","line":"hi"},{"speaker":"Bo","line":"hello"}]`},
		WithSpeakers(dialogue.Speakers{"Ann", "Bo"}),
	)

	d, err := w.GenerateScript(t.Context(), "text")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if d[1].Speaker != "Bo" {
		t.Errorf("dialogue = %+v", d)
	}
}

func TestGenerateScript_BackendErrorIsClassified(t *testing.T) {
	w := newTestWriter(t, &chatServer{
		status:  http.StatusBadRequest,
		errBody: `{"error":{"message":"model overloaded","type":"invalid_request_error"}}`,
	})

	_, err := w.GenerateScript(t.Context(), "text")
	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *fault.Error", err)
	}
	if fe.Op != OpGenerateDialogue {
		t.Errorf("Op = %q", fe.Op)
	}
}

func TestGenerateScript_QuotaExceeded(t *testing.T) {
	w := newTestWriter(t, &chatServer{
		status:  http.StatusTooManyRequests,
		errBody: `{"error":{"message":"Quota exceeded. Please retry in 3s.","type":"rate_limit_error"}}`,
	})

	_, err := w.GenerateScript(t.Context(), "text")
	if !errors.Is(err, fault.QuotaExceeded) {
		t.Fatalf("err = %v, want QuotaExceeded", err)
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	w := &Writer{model: "m", speakers: dialogue.DefaultSpeakers, maxTurns: 4, temperature: 0.3, maxTokens: 512}
	p := w.buildParams("source")

	if p.Model != "m" {
		t.Errorf("Model = %q", p.Model)
	}
	if len(p.Messages) != 2 || p.Messages[0].Role != anyllmlib.RoleSystem || p.Messages[1].Role != anyllmlib.RoleUser {
		t.Fatalf("messages = %+v", p.Messages)
	}
	if p.Temperature == nil || *p.Temperature != 0.3 {
		t.Errorf("Temperature = %v", p.Temperature)
	}
	if p.MaxTokens == nil || *p.MaxTokens != 512 {
		t.Errorf("MaxTokens = %v", p.MaxTokens)
	}
}

func TestBuildParams_ZeroLimitsOmitted(t *testing.T) {
	w := &Writer{model: "m", speakers: dialogue.DefaultSpeakers, maxTurns: 4}
	p := w.buildParams("source")
	if p.Temperature != nil {
		t.Errorf("Temperature = %v, want nil", *p.Temperature)
	}
	if p.MaxTokens != nil {
		t.Errorf("MaxTokens = %v, want nil", *p.MaxTokens)
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", WithBackendOptions(anyllmlib.WithAPIKey("dummy")))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Writer, error)
	}{
		{"NewOpenAI", func() (*Writer, error) {
			return NewOpenAI("gpt-4o", WithBackendOptions(anyllmlib.WithAPIKey("sk-test")))
		}},
		{"NewAnthropic", func() (*Writer, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", WithBackendOptions(anyllmlib.WithAPIKey("sk-ant-test")))
		}},
		{"NewOllama", func() (*Writer, error) { return NewOllama("llama3") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if w.Speakers() != dialogue.DefaultSpeakers {
				t.Errorf("%s: speakers = %v", tt.name, w.Speakers())
			}
		})
	}
}
