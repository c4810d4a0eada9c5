// Command voxcast is the main entry point for the voxcast podcast and
// transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcast/internal/app"
	"github.com/MrWong99/voxcast/internal/config"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/pkg/dialogue"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
	"github.com/MrWong99/voxcast/pkg/provider/llm/anyllm"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file with credentials")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "voxcast: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(os.Stderr, "voxcast: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		case errors.Is(err, config.ErrMissingCredential):
			fmt.Fprintf(os.Stderr, "voxcast: set GEMINI_API_KEY (or API_KEY) in the environment or %s\n", *envPath)
		default:
			fmt.Fprintf(os.Stderr, "voxcast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxcast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxcast",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config sections changed; restart to apply", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders creates the Gemini client and, when podcast.script_writer
// is configured, the alternate any-llm script writer.
func buildProviders(ctx context.Context, cfg *config.Config) (*app.Providers, error) {
	speakers := dialogue.Speakers{cfg.Podcast.Speakers[0], cfg.Podcast.Speakers[1]}

	opts := []gemini.Option{
		gemini.WithSpeakers(speakers),
		gemini.WithMaxTurns(cfg.Podcast.MaxTurns),
		gemini.WithRequestsPerMinute(cfg.Gemini.RequestsPerMinute),
	}
	if cfg.Gemini.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Gemini.Model))
	}
	if cfg.Gemini.LiveModel != "" {
		opts = append(opts, gemini.WithLiveModel(cfg.Gemini.LiveModel))
	}
	if cfg.Gemini.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	if cfg.Gemini.LiveBaseURL != "" {
		opts = append(opts, gemini.WithLiveBaseURL(cfg.Gemini.LiveBaseURL))
	}
	if cfg.Gemini.Voice != "" {
		opts = append(opts, gemini.WithVoice(cfg.Gemini.Voice))
	}

	client, err := gemini.New(ctx, cfg.Gemini.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	ps := &app.Providers{
		Script: client,
		Speech: client,
		Files:  client,
		Live:   client,
	}
	slog.Info("provider created", "kind", "gemini", "model", cfg.Gemini.Model, "live_model", cfg.Gemini.LiveModel)

	sw := cfg.Podcast.ScriptWriter
	if sw == nil {
		return ps, nil
	}
	var backendOpts []anyllmlib.Option
	if sw.APIKey != "" {
		backendOpts = append(backendOpts, anyllmlib.WithAPIKey(sw.APIKey))
	}
	if sw.BaseURL != "" {
		backendOpts = append(backendOpts, anyllmlib.WithBaseURL(sw.BaseURL))
	}
	writerOpts := []anyllm.Option{
		anyllm.WithBackendOptions(backendOpts...),
		anyllm.WithSpeakers(speakers),
		anyllm.WithMaxTurns(cfg.Podcast.MaxTurns),
	}
	if sw.Temperature != 0 {
		writerOpts = append(writerOpts, anyllm.WithTemperature(sw.Temperature))
	}
	if sw.MaxTokens > 0 {
		writerOpts = append(writerOpts, anyllm.WithMaxTokens(sw.MaxTokens))
	}
	writer, err := anyllm.New(sw.Provider, sw.Model, writerOpts...)
	if err != nil {
		return nil, fmt.Errorf("create script writer %q: %w", sw.Provider, err)
	}
	ps.Script = writer
	slog.Info("provider created", "kind", "script_writer", "name", sw.Provider, "model", sw.Model)
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxcast startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Gemini", orDefault(cfg.Gemini.Model, "(default model)"))
	printRow("Live model", orDefault(cfg.Gemini.LiveModel, "(default model)"))
	if sw := cfg.Podcast.ScriptWriter; sw != nil {
		printRow("Script writer", sw.Provider+" / "+sw.Model)
	} else {
		printRow("Script writer", "gemini")
	}
	printRow("Speakers", cfg.Podcast.Speakers[0]+" & "+cfg.Podcast.Speakers[1])
	printRow("Artifact TTL", cfg.Artifacts.TTL.String())
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
