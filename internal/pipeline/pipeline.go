// Package pipeline wires the frame source, the recognition pool and the sink
// into one supervised run.
//
//	source ──frames──▶ pool ──results──▶ persist ──▶ sink
//
// Both queues are bounded. A full queue blocks its producer, so capture slows
// down to the speed of recognition instead of dropping frames.
//
// Cancelling the context passed to [Pipeline.Run] starts a graceful
// shutdown. The source stops and closes the frames queue, the pool drains it
// and closes the results queue, and the persist stage drains that with a
// bounded detached context. Run returns once every stage has exited.
//
// The source and pool stages are restarted after a panic or unexpected
// error. A sink failure or an engine initialisation failure is fatal and
// stops the whole pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glimpse/internal/observe"
	"github.com/MrWong99/glimpse/internal/recognition"
	"github.com/MrWong99/glimpse/internal/source"
	"github.com/MrWong99/glimpse/pkg/sink"
	"github.com/MrWong99/glimpse/pkg/types"
)

// ErrSinkFailed wraps the error that made the persist stage stop the
// pipeline.
var ErrSinkFailed = errors.New("pipeline: sink failed")

// Defaults.
const (
	DefaultQueueCapacity  = 100
	DefaultRestartDelay   = time.Second
	DefaultPersistTimeout = 10 * time.Second
	DefaultReportInterval = 60 * time.Second
)

// FrameSource produces frames until ctx is done. It must not close out.
type FrameSource interface {
	Run(ctx context.Context, out chan<- *types.CapturedFrame) error
}

// Recognizer turns frames into processed units until in is closed. It must
// not close out and must stop sending once sinkGone is closed.
type Recognizer interface {
	Run(ctx context.Context, in <-chan *types.CapturedFrame, out chan<- types.ProcessedUnit, sinkGone <-chan struct{}) error
}

var (
	_ FrameSource = (*source.Source)(nil)
	_ Recognizer  = (*recognition.Pool)(nil)
)

// Config tunes the pipeline.
type Config struct {
	// FrameQueue is the capacity of the source → pool queue.
	FrameQueue int

	// ResultQueue is the capacity of the pool → persist queue.
	ResultQueue int

	// RestartDelay is the wait before a failed source or pool stage is
	// restarted.
	RestartDelay time.Duration

	// PersistTimeout bounds each Persist call made after shutdown began.
	PersistTimeout time.Duration

	// ReportInterval is the period of the stats log line. Zero or negative
	// logs only the final stats.
	ReportInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.FrameQueue <= 0 {
		c.FrameQueue = DefaultQueueCapacity
	}
	if c.ResultQueue <= 0 {
		c.ResultQueue = DefaultQueueCapacity
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
}

// Pipeline runs the stages. A Pipeline can be run once.
type Pipeline struct {
	cfg    Config
	src    FrameSource
	pool   Recognizer
	sink   sink.Sink
	rec    *observe.Recorder
	logger *slog.Logger

	frames   chan *types.CapturedFrame
	results  chan types.ProcessedUnit
	sinkGone chan struct{}

	state atomic.Int32
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithRecorder reports persist events to rec and uses it for the stats log
// line. Pass the same recorder given to the source and pool.
func WithRecorder(rec *observe.Recorder) Option {
	return func(p *Pipeline) { p.rec = rec }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns a pipeline over the given stages.
func New(src FrameSource, pool Recognizer, s sink.Sink, cfg Config, opts ...Option) (*Pipeline, error) {
	switch {
	case src == nil:
		return nil, errors.New("pipeline: nil frame source")
	case pool == nil:
		return nil, errors.New("pipeline: nil recognizer")
	case s == nil:
		return nil, errors.New("pipeline: nil sink")
	}
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:      cfg,
		src:      src,
		pool:     pool,
		sink:     s,
		frames:   make(chan *types.CapturedFrame, cfg.FrameQueue),
		results:  make(chan types.ProcessedUnit, cfg.ResultQueue),
		sinkGone: make(chan struct{}),
	}
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

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() observe.Snapshot { return p.rec.Snapshot() }

// QueueDepths returns the number of items currently buffered in the frames
// and results queues.
func (p *Pipeline) QueueDepths() (frames, results int) {
	return len(p.frames), len(p.results)
}

// Run starts all stages and blocks until they have exited. Cancelling ctx
// triggers a graceful shutdown and Run returns nil. A fatal stage error
// shuts the pipeline down the same way and is returned.
//
// Run does not close the sink.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("pipeline: run called in state %s", p.State())
	}
	defer p.state.Store(int32(StateStopped))

	reportCtx, stopReport := context.WithCancel(context.WithoutCancel(ctx))
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		observe.NewReporter(p.rec, p.cfg.ReportInterval, p.logger).Run(reportCtx)
	}()
	defer func() {
		stopReport()
		<-reportDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	}()

	p.logger.Info("pipeline started",
		"frame_queue", p.cfg.FrameQueue,
		"result_queue", p.cfg.ResultQueue,
	)

	g.Go(func() error {
		defer close(p.frames)
		return p.superviseSource(gctx)
	})
	g.Go(func() error {
		defer close(p.results)
		return p.superviseRecognition(gctx)
	})
	g.Go(func() error {
		return p.persist(gctx)
	})

	err := g.Wait()
	if err != nil {
		p.logger.Error("pipeline stopped with error", "err", err)
		return err
	}
	p.logger.Info("pipeline stopped")
	return nil
}

// superviseSource runs the source until ctx is done, restarting it after a
// panic, an error or a premature return.
func (p *Pipeline) superviseSource(ctx context.Context) error {
	for restarts := 1; ; restarts++ {
		err := protect("source", func() error { return p.src.Run(ctx, p.frames) })
		if ctx.Err() != nil {
			if err != nil {
				p.logger.Warn("source exited with error during shutdown", "err", err)
			}
			return nil
		}
		if err == nil {
			err = errors.New("source returned before shutdown")
		}
		p.restartAfter(ctx, "source", restarts, err)
	}
}

// superviseRecognition runs the pool until the frames queue is closed and
// drained. A panic restarts the pool, immediately if shutdown has begun so
// the queue keeps draining. ErrEngineInit is fatal.
func (p *Pipeline) superviseRecognition(ctx context.Context) error {
	for restarts := 1; ; restarts++ {
		err := protect("recognition", func() error {
			return p.pool.Run(ctx, p.frames, p.results, p.sinkGone)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, recognition.ErrEngineInit):
			return err
		}
		p.restartAfter(ctx, "recognition", restarts, err)
	}
}

// restartAfter logs a stage failure and waits RestartDelay or until ctx is
// done.
func (p *Pipeline) restartAfter(ctx context.Context, stage string, restarts int, err error) {
	p.logger.Error("stage failed, restarting", "stage", stage, "restarts", restarts, "delay", p.cfg.RestartDelay, "err", err)
	t := time.NewTimer(p.cfg.RestartDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// persist hands every unit to the sink until results is closed. The first
// sink error closes sinkGone and is returned wrapped in ErrSinkFailed.
func (p *Pipeline) persist(ctx context.Context) error {
	for u := range p.results {
		if err := p.persistOne(ctx, u); err != nil {
			close(p.sinkGone)
			p.rec.PersistFailed(ctx)
			return fmt.Errorf("%w: frame %d: %w", ErrSinkFailed, u.Frame.Seq, err)
		}
	}
	return nil
}

func (p *Pipeline) persistOne(ctx context.Context, u types.ProcessedUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()

	// Units drained after shutdown still need a live context.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PersistTimeout)
	defer cancel()
	pctx, span := observe.StartSpan(pctx, "pipeline.persist", observe.FrameAttrs(u.Frame))
	defer span.End()

	start := time.Now()
	if err := p.sink.Persist(pctx, u); err != nil {
		span.RecordError(err)
		return err
	}
	p.rec.Persisted(pctx, time.Since(start))
	observe.Logger(pctx).Debug("unit persisted", "frame_seq", u.Frame.Seq, "regions", len(u.Result.Regions))
	return nil
}

// protect runs fn and converts a panic into an error.
func protect(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: %s stage panic: %v", stage, r)
		}
	}()
	return fn()
}
