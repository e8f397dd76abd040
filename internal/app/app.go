// Package app wires the glimpse subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the frame source, the
// recognition pool, the pipeline and the ops HTTP server from the config and
// the providers, Run executes the pipeline until the context is cancelled or
// a fatal error occurs, and Shutdown releases everything in order.
//
// Providers are created by main.go via the config registry. Tests pass mock
// providers directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/glimpse/internal/config"
	"github.com/MrWong99/glimpse/internal/diff"
	"github.com/MrWong99/glimpse/internal/health"
	"github.com/MrWong99/glimpse/internal/observe"
	"github.com/MrWong99/glimpse/internal/pipeline"
	"github.com/MrWong99/glimpse/internal/recognition"
	"github.com/MrWong99/glimpse/internal/resilience"
	"github.com/MrWong99/glimpse/internal/source"
	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/sink"
)

// serverShutdownTimeout bounds the ops server shutdown after the pipeline
// has stopped.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one value per provider slot. All three are required.
type Providers struct {
	Capture    capture.Provider
	Recognizer ocr.Factory
	Sink       sink.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       config.Config
	providers *Providers
	telemetry *observe.Telemetry
	logger    *slog.Logger

	rec      *observe.Recorder
	source   *source.Source
	pool     *recognition.Pool
	pipeline *pipeline.Pipeline
	mux      *http.ServeMux
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithTelemetry records metrics through t and serves t.Handler at /metrics.
// Without it instruments are not created and /metrics is not served.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLogger sets the logger handed to every subsystem. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New builds the application. cfg is copied and defaults are applied to the
// copy. The sink and, if it implements io.Closer, the capture provider are
// closed by Shutdown.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("app: nil config")
	case providers == nil || providers.Capture == nil:
		return nil, errors.New("app: capture provider is required")
	case providers.Recognizer == nil:
		return nil, errors.New("app: recognizer is required")
	case providers.Sink == nil:
		return nil, errors.New("app: sink is required")
	}

	a := &App{cfg: *cfg, providers: providers, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	config.ApplyDefaults(&a.cfg)

	a.closers = append(a.closers, providers.Sink.Close)
	if c, ok := providers.Capture.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	if err := a.initRecorder(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initServer()

	a.logger.InfoContext(ctx, "application initialised",
		"monitor", a.cfg.Capture.MonitorIndex,
		"workers", a.cfg.Recognition.Workers,
		"ops_server", a.cfg.Server.ListenAddr,
	)
	return a, nil
}

func (a *App) initRecorder() error {
	if a.telemetry == nil {
		a.rec = observe.NewRecorder(nil)
		return nil
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider)
	if err != nil {
		return err
	}
	a.rec = observe.NewRecorder(m)
	return nil
}

func (a *App) initPipeline() error {
	c := a.cfg

	src, err := source.New(a.providers.Capture, source.Config{
		Monitor:          c.Capture.MonitorIndex,
		Interval:         c.Capture.Interval(),
		FailureThreshold: c.Capture.FailureThreshold,
		BreakerReset:     c.Capture.BreakerReset(),
		Change: diff.Config{
			Threshold:  *c.Change.DiffThreshold,
			NoiseFloor: uint8(*c.Change.NoiseFloor),
			Stride:     c.Change.SampleStride,
		},
	}, source.WithRecorder(a.rec), source.WithLogger(a.logger))
	if err != nil {
		return err
	}

	pool, err := recognition.New(a.providers.Recognizer, recognition.Config{
		Workers:       c.Recognition.Workers,
		MinConfidence: *c.Recognition.MinConfidence,
		MaxRetries:    c.Recognition.MaxRetries,
		RetryBackoff:  c.Recognition.RetryBackoff(),
		StoreEmpty:    c.Recognition.StoreEmpty,
	}, recognition.WithRecorder(a.rec), recognition.WithLogger(a.logger))
	if err != nil {
		return err
	}

	p, err := pipeline.New(src, pool, a.providers.Sink, pipeline.Config{
		FrameQueue:     c.Pipeline.FrameQueueCapacity,
		ResultQueue:    c.Pipeline.ResultQueueCapacity,
		RestartDelay:   c.Pipeline.RestartDelay(),
		PersistTimeout: c.Pipeline.PersistTimeout(),
		ReportInterval: c.Pipeline.ReportInterval(),
	}, pipeline.WithRecorder(a.rec), pipeline.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.source, a.pool, a.pipeline = src, pool, p
	return nil
}

// initServer builds the ops mux. The listener is only opened by Run.
func (a *App) initServer() {
	checks := []health.Checker{
		health.StateCheck("pipeline", a.pipeline.State, func(s pipeline.State) bool {
			return s == pipeline.StateRunning
		}),
		health.StateCheck("capture", a.source.BreakerState, func(s resilience.State) bool {
			return s != resilience.StateOpen
		}),
	}
	if p, ok := a.providers.Sink.(sink.Pinger); ok {
		checks = append(checks, health.PingCheck("sink", p))
	}

	a.mux = http.NewServeMux()
	health.New(a.stats, checks...).Register(a.mux)

	var m *observe.Metrics
	if a.telemetry != nil {
		a.mux.Handle("GET /metrics", a.telemetry.Handler())
		m = a.rec.Metrics()
	}

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           observe.Middleware(m)(a.mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

// Stats is the body served at /stats.
type Stats struct {
	State   string           `json:"state"`
	Queues  QueueDepths      `json:"queues"`
	Capture string           `json:"capture_breaker"`
	Metrics observe.Snapshot `json:"metrics"`
}

// QueueDepths reports buffered items per queue.
type QueueDepths struct {
	Frames  int `json:"frames"`
	Results int `json:"results"`
}

func (a *App) stats() any {
	f, r := a.pipeline.QueueDepths()
	return Stats{
		State:   a.pipeline.State().String(),
		Queues:  QueueDepths{Frames: f, Results: r},
		Capture: a.source.BreakerState().String(),
		Metrics: a.rec.Snapshot(),
	}
}

// Handler returns the ops HTTP handler without middleware.
func (a *App) Handler() http.Handler { return a.mux }

// Pipeline returns the pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Snapshot returns the current counters.
func (a *App) Snapshot() observe.Snapshot { return a.rec.Snapshot() }

// Run starts the ops server, if configured, and runs the pipeline until ctx
// is cancelled or a stage fails fatally. The ops server keeps answering
// while the pipeline drains and is shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.logger.Info("ops server listening", "addr", ln.Addr().String())
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(sctx); err != nil {
				a.logger.Warn("ops server shutdown error", "err", err)
			}
		}()
	}

	return a.pipeline.Run(ctx)
}

// Shutdown closes the sink and providers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
