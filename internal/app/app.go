// Package app wires all voxcast subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New builds the artifact store, the
// podcast and transcriber workflows and the HTTP surface, Serve runs the
// server and the background sweepers until the context is cancelled, and
// Shutdown releases whatever is left.
//
// For testing, inject mock providers through [Providers] and replace
// individual subsystems via functional options (WithArtifactStore,
// WithMetrics, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcast/internal/artifact"
	"github.com/MrWong99/voxcast/internal/config"
	"github.com/MrWong99/voxcast/internal/document"
	"github.com/MrWong99/voxcast/internal/health"
	"github.com/MrWong99/voxcast/internal/observe"
	"github.com/MrWong99/voxcast/internal/podcast"
	"github.com/MrWong99/voxcast/internal/transcriber"
	"github.com/MrWong99/voxcast/internal/web"
	"github.com/MrWong99/voxcast/pkg/provider/gemini"
)

// Providers holds one interface value per remote capability. All four are
// required; main.go fills them from the Gemini client and, optionally, an
// alternate script writer.
type Providers struct {
	Script podcast.ScriptWriter
	Speech podcast.Synthesizer
	Files  transcriber.FileTranscriber
	Live   gemini.Dialer
}

func (p *Providers) validate() error {
	var errs []error
	if p == nil {
		return errors.New("app: providers must not be nil")
	}
	if p.Script == nil {
		errs = append(errs, errors.New("app: script writer is not configured"))
	}
	if p.Speech == nil {
		errs = append(errs, errors.New("app: speech synthesizer is not configured"))
	}
	if p.Files == nil {
		errs = append(errs, errors.New("app: file transcriber is not configured"))
	}
	if p.Live == nil {
		errs = append(errs, errors.New("app: live dialer is not configured"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes of the voxcast server.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	store    *artifact.Store
	health   *health.Handler
	checkers []health.Checker
	handler  http.Handler
	srv      *http.Server

	// baseCtx is the parent of every request context. Cancelling it ends
	// hijacked WebSocket connections, which http.Server.Shutdown ignores.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink for every subsystem. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithArtifactStore injects a store instead of creating one from config.
func WithArtifactStore(s *artifact.Store) Option {
	return func(a *App) { a.store = s }
}

// WithReadinessCheck adds a check to /readyz.
func WithReadinessCheck(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already have
// been validated; see [config.Load].
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if err := providers.validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Artifact store ────────────────────────────────────────────────
	if a.store == nil {
		a.store = artifact.NewStore(
			artifact.WithTTL(cfg.Artifacts.TTL),
			artifact.WithMaxEntries(cfg.Artifacts.MaxEntries),
			artifact.WithMetrics(a.metrics),
		)
	}

	// ── 2. Workflows ─────────────────────────────────────────────────────
	extractor := document.NewExtractor(document.WithMaxBytes(cfg.Server.MaxUploadBytes))
	podcasts := podcast.New(providers.Script, providers.Speech, extractor, a.store,
		podcast.WithMetrics(a.metrics),
	)
	transcripts := transcriber.New(providers.Live, providers.Files, a.store,
		transcriber.WithMetrics(a.metrics),
		transcriber.WithLiveConfig(gemini.LiveConfig{
			Model:        cfg.Gemini.LiveModel,
			Instructions: cfg.Transcriber.Instructions,
		}),
	)

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	webOpts := []web.Option{web.WithMaxUploadBytes(cfg.Server.MaxUploadBytes)}
	if cfg.Server.StaticDir != "" {
		webOpts = append(webOpts, web.WithStaticDir(cfg.Server.StaticDir))
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	}

	a.health = health.New(a.checkers...)

	mux := http.NewServeMux()
	web.New(podcasts, transcripts, extractor, a.store, webOpts...).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}
	a.closers = append(a.closers, func() error {
		a.cancelBase()
		return nil
	})

	slog.Debug("app initialised",
		"listen_addr", cfg.Server.ListenAddr,
		"artifact_ttl", cfg.Artifacts.TTL,
		"max_upload_bytes", cfg.Server.MaxUploadBytes,
	)
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Store returns the artifact store.
func (a *App) Store() *artifact.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln and sweeps expired artifacts until ctx is
// cancelled. On cancellation it drains /readyz and shuts the server down
// gracefully within the configured shutdown timeout. Serve returns nil after
// a clean shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", ln.Addr().String())
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", ln.Addr().String())
			err = a.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		return a.store.Run(gctx, a.cfg.Artifacts.SweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.health.Drain()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		slog.Info("draining http server", "timeout", timeout)
		err := a.srv.Shutdown(sctx)
		// Live sockets are hijacked and outlive Shutdown.
		a.cancelBase()
		if err != nil {
			return fmt.Errorf("app: shutdown http: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.Drain()
		var errs []error
		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if cerr := closer(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
