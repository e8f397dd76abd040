// Package recognition runs the text recognition worker pool.
//
// The pool starts one worker per configured slot. Each worker owns an
// executor: a goroutine locked to its own OS thread that builds the worker's
// engine, performs every call on it and finally closes it. Workers pull
// frames from a shared channel, retry failed recognitions with exponential
// backoff, filter regions by confidence and forward the results.
//
// On shutdown (ctx cancelled) workers finish the frame in hand and then keep
// draining the input channel until the producer closes it. Frames drained this
// way get a single attempt, because backoff waits end as soon as ctx is done.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glimpse/internal/observe"
	"github.com/MrWong99/glimpse/internal/resilience"
	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/types"
)

var (
	// ErrEngineInit is returned by [Pool.Run] when an engine cannot be built.
	// It is fatal for the pipeline.
	ErrEngineInit = errors.New("recognition: engine initialisation failed")

	// ErrRetriesExhausted wraps the last error of a frame that failed every
	// attempt.
	ErrRetriesExhausted = errors.New("recognition: retries exhausted")
)

// Defaults.
const (
	DefaultWorkers       = 2
	DefaultMinConfidence = 0.7
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = time.Second
)

// Config tunes the pool.
type Config struct {
	// Workers is the number of workers, each with its own engine.
	Workers int

	// MinConfidence is the lowest region confidence kept, inclusive.
	MinConfidence float64

	// MaxRetries is the total number of attempts per frame.
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles for each
	// further retry.
	RetryBackoff time.Duration

	// StoreEmpty forwards results without any region when true.
	StoreEmpty bool
}

// Pool is the recognition worker pool.
type Pool struct {
	cfg     Config
	factory ocr.Factory
	rec     *observe.Recorder
	sleep   resilience.SleepFunc
	logger  *slog.Logger
}

// Option is a functional option for [New].
type Option func(*Pool)

// WithRecorder reports events to rec. Defaults to a private recorder.
func WithRecorder(rec *observe.Recorder) Option {
	return func(p *Pool) { p.rec = rec }
}

// WithSleep replaces the backoff wait. Used by tests.
func WithSleep(fn resilience.SleepFunc) Option {
	return func(p *Pool) { p.sleep = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New validates cfg and returns a pool. Engines are not built until Run.
func New(factory ocr.Factory, cfg Config, opts ...Option) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("recognition: nil engine factory")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("recognition: workers must be positive, got %d", cfg.Workers)
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	p := &Pool{cfg: cfg, factory: factory, sleep: resilience.Sleep}
	for _, o := range opts {
		o(p)
	}
	if p.rec == nil {
		p.rec = observe.NewRecorder(nil)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.cfg.Workers }

// Run builds one engine per worker and processes frames from in until in is
// closed. Results go to out; Run never closes out. If sinkGone is closed,
// results can no longer be delivered: workers stop recognising and discard
// the remaining input.
//
// Run returns an error wrapping [ErrEngineInit] if any engine fails to build,
// after closing the engines that did build. Otherwise it returns nil once in
// is drained.
func (p *Pool) Run(ctx context.Context, in <-chan *types.CapturedFrame, out chan<- types.ProcessedUnit, sinkGone <-chan struct{}) error {
	execs := make([]*executor, 0, p.cfg.Workers)
	defer func() {
		for _, e := range execs {
			e.stop()
		}
	}()
	for i := range p.cfg.Workers {
		e, err := startExecutor(p.factory)
		if err != nil {
			return fmt.Errorf("%w: worker %d: %v", ErrEngineInit, i, err)
		}
		execs = append(execs, e)
	}
	p.logger.Info("recognition workers started", "workers", len(execs))

	var wg sync.WaitGroup
	for i, e := range execs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, i, e, in, out, sinkGone)
		}()
	}
	wg.Wait()
	p.logger.Info("recognition workers stopped")
	return nil
}

func (p *Pool) work(ctx context.Context, id int, e *executor, in <-chan *types.CapturedFrame, out chan<- types.ProcessedUnit, sinkGone <-chan struct{}) {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return
			}
			if !p.handle(ctx, id, e, f, out, sinkGone) {
				discard(in)
				return
			}
		case <-ctx.Done():
			for f := range in {
				if !p.handle(ctx, id, e, f, out, sinkGone) {
					discard(in)
					return
				}
			}
			return
		}
	}
}

func discard(in <-chan *types.CapturedFrame) {
	for range in {
	}
}

// handle recognises f and forwards the result. It returns false when the sink
// is gone.
func (p *Pool) handle(ctx context.Context, id int, e *executor, f *types.CapturedFrame, out chan<- types.ProcessedUnit, sinkGone <-chan struct{}) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			p.rec.RecognitionFailed(ctx, 0)
			p.logger.Error("recognition worker panic", "worker", id, "frame_seq", f.Seq, "panic", r)
			alive = true
		}
	}()

	res, ok := p.process(ctx, id, e, f)
	if !ok {
		return true
	}
	select {
	case out <- types.ProcessedUnit{Frame: f, Result: res}:
		return true
	case <-sinkGone:
		return false
	}
}

// process runs recognition with retries. ok is false when the frame produced
// nothing to forward.
func (p *Pool) process(ctx context.Context, id int, e *executor, f *types.CapturedFrame) (res types.RecognitionResult, ok bool) {
	ctx, span := observe.StartSpan(ctx, "recognition.frame", observe.FrameAttrs(f))
	defer span.End()
	log := observe.Logger(ctx).With("worker", id, "frame_seq", f.Seq)

	p.rec.WorkerBusy(ctx, 1)
	defer p.rec.WorkerBusy(ctx, -1)

	start := time.Now()
	var page ocr.Page
	backoff := resilience.Backoff{Base: p.cfg.RetryBackoff, MaxAttempts: p.cfg.MaxRetries}
	err := resilience.Retry(ctx, backoff, p.sleep, func(attempt int) error {
		if attempt > 1 {
			p.rec.Retried(ctx)
		}
		var err error
		page, err = e.recognize(f.Pixels)
		if err != nil {
			log.Warn("recognition attempt failed", "attempt", attempt, "max_attempts", backoff.Attempts(), "err", err)
		}
		return err
	})
	elapsed := time.Since(start)

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		span.RecordError(err)
		p.rec.RecognitionFailed(ctx, elapsed)
		log.Error("frame dropped", "err", err, "elapsed", elapsed)
		return res, false
	}

	res, filtered := BuildResult(page, p.cfg.MinConfidence)
	res.Duration = elapsed
	res.Width, res.Height = f.Pixels.Width(), f.Pixels.Height()
	p.rec.Recognized(ctx, elapsed, len(res.Regions), filtered)
	log.Debug("frame recognised",
		"regions", len(res.Regions),
		"filtered", filtered,
		"elapsed", elapsed,
	)

	if res.Empty() && !p.cfg.StoreEmpty {
		return res, false
	}
	return res, true
}
