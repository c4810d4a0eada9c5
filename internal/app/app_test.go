package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxcast/internal/app"
	"github.com/MrWong99/voxcast/internal/config"
	"github.com/MrWong99/voxcast/internal/health"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/pkg/dialogue"
	geminimock "github.com/MrWong99/voxcast/pkg/provider/gemini/mock"
)

// testConfig returns a validated default config.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Gemini: config.GeminiConfig{APIKey: "test-key"},
	}
	config.ApplyDefaults(cfg)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// testProviders returns providers backed by the Gemini mocks.
func testProviders() (*app.Providers, *geminimock.Generator) {
	gen := &geminimock.Generator{
		Dialogue: dialogue.Dialogue{
			{Speaker: "Alex", Line: "Hi."},
			{Speaker: "Ben", Line: "Hello."},
		},
		PCM: []byte{0, 0, 1, 0},
	}
	return &app.Providers{
		Script: gen,
		Speech: gen,
		Files:  gen,
		Live:   &geminimock.Dialer{},
	}, gen
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	providers, gen := testProviders()
	a, err := app.New(testConfig(t), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/podcast", "application/json", strings.NewReader(`{"text":"water cycle"}`))
	if err != nil {
		t.Fatalf("POST /api/podcast: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := gen.Scripts(); len(got) != 1 || got[0] != "water cycle" {
		t.Errorf("script calls = %v", got)
	}
	if a.Store().Len() != 1 {
		t.Errorf("stored artifacts = %d, want 1", a.Store().Len())
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(testConfig(t), &app.Providers{Script: &geminimock.Generator{}})
	if err == nil {
		t.Fatal("expected error for incomplete providers")
	}
	for _, want := range []string{"speech", "file transcriber", "live dialer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	if _, err := app.New(testConfig(t), nil); err == nil {
		t.Error("expected error for nil providers")
	}
	providers, _ := testProviders()
	if _, err := app.New(nil, providers); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestHandler_ProbesAndMetrics(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(testConfig(t), providers,
		app.WithMetrics(testMetrics(t)),
		app.WithReadinessCheck(health.Checker{
			Name:  "always-fails",
			Check: func(context.Context) error { return errors.New("nope") },
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusServiceUnavailable,
		"/metrics": http.StatusOK,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(testConfig(t), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/readyz"
	var body struct {
		Status string `json:"status"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if body.Status != "ok" {
		t.Errorf("readyz status = %q, want ok", body.Status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()
	providers, _ := testProviders()
	a, err := app.New(testConfig(t), providers, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown error = %v, want context.Canceled", err)
	}
}
