// Package app wires the voxbridge proxy server together.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run serves HTTP until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject dependencies via functional options (WithMetrics,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
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

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/funcexec"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/proxy"
)

// App owns all subsystem lifetimes of the proxy server.
type App struct {
	cfg *config.Config

	level     *slog.LevelVar
	metrics   *observe.Metrics
	telemetry *observe.Telemetry
	listener  net.Listener
	now       func() time.Time

	// Subsystems, initialised in New and torn down in Shutdown.
	proxy    *proxy.Server
	funcs    *funcexec.Registry
	health   *health.Handler
	server   *http.Server
	handler  http.Handler
	addrOnce sync.Once
	addr     chan string

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics on m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves t's Prometheus registry on the metrics route and
// shuts t down with the app.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevelVar shares the log level with the logger so config reloads can
// change it at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithClock replaces the clock used by built-in functions.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, now: time.Now, addr: make(chan string, 1)}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Proxy ─────────────────────────────────────────────────────────
	p, err := proxy.NewServer(ProxyConfig(cfg), proxy.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init proxy: %w", err)
	}
	a.proxy = p

	// ── 2. Built-in functions ────────────────────────────────────────────
	a.funcs = funcexec.NewRegistry()
	if err := funcexec.RegisterBuiltins(a.funcs, a.now); err != nil {
		return nil, fmt.Errorf("app: register functions: %w", err)
	}

	// ── 3. Health ────────────────────────────────────────────────────────
	a.health = health.New(health.Checker{
		Name:  "sessions",
		Check: a.checkCapacity,
	})

	// ── 4. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app initialised",
		"proxy_path", cfg.Proxy.Path,
		"upstream", cfg.Upstream.URL,
		"functions", a.funcs.Names(),
	)
	return a, nil
}

// ProxyConfig derives the proxy settings from cfg.
func ProxyConfig(cfg *config.Config) proxy.Config {
	return proxy.Config{
		UpstreamURL:        cfg.Upstream.URL,
		APIKey:             cfg.Upstream.APIKey,
		Model:              cfg.Upstream.Model,
		DialTimeout:        cfg.Upstream.DialTimeout,
		AuthToken:          cfg.Proxy.AuthToken,
		DefaultVoice:       cfg.Proxy.DefaultVoice,
		TranscriptionModel: cfg.Proxy.TranscriptionModel,
		MaxSessions:        cfg.Proxy.MaxSessions,
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Proxy.Path, a.proxy)
	if a.cfg.Functions.Path != "" {
		mux.Handle("POST "+a.cfg.Functions.Path, funcexec.NewHandler(a.funcs, a.cfg.Functions.Timeout))
	}
	if a.telemetry != nil {
		mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.telemetry.MetricsHandler())
	}
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// checkCapacity fails readiness while the session cap is reached.
func (a *App) checkCapacity(context.Context) error {
	if a.proxy.Full() {
		return errors.New("session limit reached")
	}
	return nil
}

// Handler returns the app's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Addr blocks until Run is listening and returns the bound address.
func (a *App) Addr(ctx context.Context) (string, error) {
	select {
	case addr := <-a.addr:
		a.addr <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of next. It is meant to be
// called from a [config.Watcher] callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
	}
	if d.ProxyChanged {
		if err := a.proxy.UpdateConfig(ProxyConfig(next)); err != nil {
			slog.Warn("proxy config update rejected", "err", err)
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// Cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	a.addrOnce.Do(func() { a.addr <- ln.Addr().String() })

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the app as draining, ends running proxy sessions, stops the
// HTTP server and flushes telemetry. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.proxy.Active())
		a.health.SetDraining(true)

		if err := a.proxy.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: telemetry shutdown: %w", err))
			}
		}
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// AddCloser registers fn to run at the end of Shutdown.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}
