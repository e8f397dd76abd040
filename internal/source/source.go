// Package source produces frames for the pipeline.
//
// A Source captures one monitor on a fixed interval, attaches the foreground
// window, runs the change detector inline and forwards retained frames. The
// first capture happens immediately. Capture failures are logged and skipped;
// after repeated failures a circuit breaker pauses capture attempts for a
// while. None of this is fatal.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MrWong99/glimpse/internal/diff"
	"github.com/MrWong99/glimpse/internal/observe"
	"github.com/MrWong99/glimpse/internal/resilience"
	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/types"
)

// ErrNoFrame is returned by [Source.Next] when the capture failed or was
// skipped by the circuit breaker.
var ErrNoFrame = errors.New("source: no frame")

// DefaultInterval is the capture interval used when none is configured.
const DefaultInterval = 3 * time.Second

// Config configures a Source.
type Config struct {
	// Monitor is the display index to capture.
	Monitor int

	// Interval is the time between captures.
	Interval time.Duration

	// FailureThreshold is the number of consecutive capture failures that
	// trips the breaker. Default: 5.
	FailureThreshold int

	// BreakerReset is how long capture stays paused once tripped.
	// Default: 30s.
	BreakerReset time.Duration

	// Change configures the change detector.
	Change diff.Config
}

// Source is the frame producer. It is not safe for concurrent use; exactly
// one goroutine calls Run or Next.
type Source struct {
	cfg      Config
	provider capture.Provider
	detector *diff.Detector
	breaker  *resilience.CircuitBreaker
	rec      *observe.Recorder
	logger   *slog.Logger
	now      func() time.Time
	seq      uint64
}

// Option is a functional option for [New].
type Option func(*Source)

// WithRecorder reports events to rec.
func WithRecorder(rec *observe.Recorder) Option {
	return func(s *Source) { s.rec = rec }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithClock replaces time.Now for frame timestamps and the breaker.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// New returns a Source capturing through p.
func New(p capture.Provider, cfg Config, opts ...Option) (*Source, error) {
	if p == nil {
		return nil, errors.New("source: nil capture provider")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Monitor < 0 {
		return nil, fmt.Errorf("source: invalid monitor index %d", cfg.Monitor)
	}
	s := &Source{cfg: cfg, provider: p, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.rec == nil {
		s.rec = observe.NewRecorder(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.detector = diff.New(cfg.Change)
	s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "capture",
		MaxFailures:  cfg.FailureThreshold,
		ResetTimeout: cfg.BreakerReset,
		Now:          s.now,
	})
	return s, nil
}

// Next captures one frame. The foreground window lookup is best effort: on
// failure the frame carries no window context. Next does not consult the
// change detector.
func (s *Source) Next(ctx context.Context) (*types.CapturedFrame, error) {
	var img *imageResult
	err := s.breaker.Execute(func() error {
		start := s.now()
		raw, err := s.provider.Capture(ctx, s.cfg.Monitor)
		if err != nil {
			return err
		}
		img = &imageResult{raw: raw, took: s.now().Sub(start)}
		return nil
	})
	if err != nil {
		s.rec.CaptureFailed(ctx)
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	s.rec.Captured(ctx, img.took)

	win, werr := s.provider.ForegroundWindow(ctx)
	if werr != nil {
		if !errors.Is(werr, capture.ErrNotSupported) {
			s.logger.Debug("foreground window lookup failed", "err", werr)
		}
		win = nil
	}

	s.seq++
	return types.NewCapturedFrame(s.seq, img.raw, s.cfg.Monitor, win, s.now()), nil
}

// Run captures on every tick, forwards retained frames to out and returns
// when ctx is done. Run does not close out. A send to out blocks until the
// consumer takes the frame or ctx is done, so a full queue delays the next
// capture rather than dropping frames.
func (s *Source) Run(ctx context.Context, out chan<- *types.CapturedFrame) error {
	s.logger.Info("frame source started",
		"monitor", s.cfg.Monitor,
		"interval", s.cfg.Interval,
		"diff_threshold", s.cfg.Change.Threshold,
	)
	defer s.logger.Info("frame source stopped", "frames", s.seq)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		if !s.tick(ctx, out) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// tick performs one capture cycle. It returns false once ctx is done.
func (s *Source) tick(ctx context.Context, out chan<- *types.CapturedFrame) bool {
	if ctx.Err() != nil {
		return false
	}
	f, err := s.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			s.logger.Debug("capture skipped, breaker open")
		} else {
			s.logger.Warn("capture failed", "err", err)
		}
		return true
	}

	dec := s.detector.Observe(f)
	s.rec.Compared(ctx, dec.Ratio, dec.Retain)
	if !dec.Retain {
		s.logger.Debug("frame unchanged", "seq", f.Seq, "ratio", dec.Ratio)
		return true
	}
	s.logger.Debug("frame retained", "seq", f.Seq, "ratio", dec.Ratio, "first", dec.First)

	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// BreakerState reports the capture circuit breaker state.
func (s *Source) BreakerState() resilience.State { return s.breaker.State() }

type imageResult struct {
	raw  *image.RGBA
	took time.Duration
}
