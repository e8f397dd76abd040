package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/glimpse/internal/diff"
	"github.com/MrWong99/glimpse/internal/observe"
	"github.com/MrWong99/glimpse/internal/recognition"
	"github.com/MrWong99/glimpse/internal/source"
	capmock "github.com/MrWong99/glimpse/pkg/provider/capture/mock"
	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	ocrmock "github.com/MrWong99/glimpse/pkg/provider/ocr/mock"
	sinkmock "github.com/MrWong99/glimpse/pkg/sink/mock"
	"github.com/MrWong99/glimpse/pkg/types"
)

func helloPage() ocr.Page {
	return ocr.Page{Lines: []ocr.Line{{Words: []ocr.Word{
		{Text: "hello", Confidence: 0.95, Box: image.Rect(0, 0, 5, 5)},
		{Text: "world", Confidence: 0.9, Box: image.Rect(6, 0, 11, 5)},
	}}}}
}

func solid(v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func frame(seq uint64) *types.CapturedFrame {
	return types.NewCapturedFrame(seq, solid(uint8(seq)), 0, nil, time.Now())
}

func newPool(t *testing.T, rec *observe.Recorder, engines ...*ocrmock.Engine) *recognition.Pool {
	t.Helper()
	p, err := recognition.New(ocrmock.Factory(engines...), recognition.Config{
		Workers:       len(engines),
		MinConfidence: 0.7,
		MaxRetries:    3,
		RetryBackoff:  time.Millisecond,
	}, recognition.WithRecorder(rec))
	if err != nil {
		t.Fatalf("recognition.New: %v", err)
	}
	return p
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func runAsync(p *Pipeline, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// funcSource adapts a function to FrameSource.
type funcSource func(ctx context.Context, out chan<- *types.CapturedFrame) error

func (f funcSource) Run(ctx context.Context, out chan<- *types.CapturedFrame) error { return f(ctx, out) }

// burst sends n frames and then idles until ctx is done.
func burst(n int, sent chan<- struct{}) funcSource {
	return func(ctx context.Context, out chan<- *types.CapturedFrame) error {
		for i := 1; i <= n; i++ {
			select {
			case out <- frame(uint64(i)):
			case <-ctx.Done():
				return nil
			}
		}
		if sent != nil {
			close(sent)
		}
		<-ctx.Done()
		return nil
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	rec := observe.NewRecorder(nil)
	capture := &capmock.Provider{Images: []*image.RGBA{solid(0), solid(200), solid(0), solid(200), solid(200)}}
	src, err := source.New(capture, source.Config{
		Interval: 2 * time.Millisecond,
		Change:   diff.Config{Threshold: 0.006, NoiseFloor: 10, Stride: 1},
	}, source.WithRecorder(rec))
	if err != nil {
		t.Fatalf("source.New: %v", err)
	}
	engine := &ocrmock.Engine{Page: helloPage()}
	sink := &sinkmock.Sink{}

	p, err := New(src, newPool(t, rec, engine), sink, Config{FrameQueue: 4, ResultQueue: 4}, WithRecorder(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("initial state = %s", p.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)
	waitFor(t, "frames captured", func() bool { return rec.Snapshot().FramesCaptured >= 8 })
	if p.State() != StateRunning {
		t.Errorf("state while running = %s", p.State())
	}
	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.State() != StateStopped {
		t.Errorf("final state = %s, want stopped", p.State())
	}

	// Four distinct transitions, then the screen stays the same.
	units := sink.Persisted()
	if len(units) != 4 {
		t.Fatalf("persisted %d units, want 4", len(units))
	}
	for i, u := range units {
		if u.Result.FullText != "hello world" {
			t.Errorf("unit %d text = %q", i, u.Result.FullText)
		}
	}
	s := rec.Snapshot()
	if s.UnitsPersisted != 4 || s.FramesProcessed != 4 || s.SuccessRate != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.FramesDiscardedUnchanged < 1 {
		t.Errorf("frames_discarded_unchanged = %d, want >= 1", s.FramesDiscardedUnchanged)
	}
	if !engine.Closed() {
		t.Error("engine not closed after shutdown")
	}
}

func TestPipeline_DrainsQueuedFramesOnShutdown(t *testing.T) {
	t.Parallel()

	const n = 20
	gate := make(chan struct{})
	engine := &ocrmock.Engine{RecognizeFunc: func(call int, _ ocr.Image) (ocr.Page, error) {
		if call == 1 {
			<-gate
		}
		return helloPage(), nil
	}}
	sent := make(chan struct{})
	sink := &sinkmock.Sink{}
	rec := observe.NewRecorder(nil)

	p, err := New(burst(n, sent), newPool(t, rec, engine), sink, Config{FrameQueue: n, ResultQueue: 2}, WithRecorder(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)
	<-sent
	cancel()
	waitFor(t, "stopping state", func() bool { return p.State() != StateRunning })
	close(gate)

	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(sink.Persisted()); got != n {
		t.Errorf("persisted %d units after shutdown, want %d", got, n)
	}
}

func TestPipeline_Backpressure(t *testing.T) {
	t.Parallel()

	var sent atomic.Int64
	src := funcSource(func(ctx context.Context, out chan<- *types.CapturedFrame) error {
		for i := uint64(1); ; i++ {
			select {
			case out <- frame(i):
				sent.Add(1)
			case <-ctx.Done():
				return nil
			}
		}
	})
	release := make(chan struct{})
	var persistCalls atomic.Int64
	sink := &sinkmock.Sink{PersistFunc: func(ctx context.Context, _ types.ProcessedUnit) error {
		persistCalls.Add(1)
		<-release
		return nil
	}}

	p, err := New(src, newPool(t, observe.NewRecorder(nil), &ocrmock.Engine{Page: helloPage()}), sink,
		Config{FrameQueue: 1, ResultQueue: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)
	waitFor(t, "sink blocked", func() bool { return persistCalls.Load() == 1 })
	time.Sleep(50 * time.Millisecond)

	// One unit in the sink, one in the results queue, one held by the worker
	// and one in the frames queue.
	if got := sent.Load(); got > 4 {
		t.Errorf("source sent %d frames while the sink was blocked, want <= 4", got)
	}
	if f, r := p.QueueDepths(); f > 1 || r > 1 {
		t.Errorf("queue depths = %d/%d, capacities are 1/1", f, r)
	}

	cancel()
	close(release)
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := int64(len(sink.Persisted())), sent.Load(); got != want {
		t.Errorf("persisted %d of %d sent frames", got, want)
	}
}

func TestPipeline_SinkFailureIsFatal(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk full")
	sink := &sinkmock.Sink{Err: errDisk, FailAfter: 2}
	rec := observe.NewRecorder(nil)

	p, err := New(burst(50, nil), newPool(t, rec, &ocrmock.Engine{Page: helloPage()}), sink, Config{FrameQueue: 4, ResultQueue: 4}, WithRecorder(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = wait(t, runAsync(p, context.Background()))
	if !errors.Is(err, ErrSinkFailed) || !errors.Is(err, errDisk) {
		t.Fatalf("Run err = %v, want ErrSinkFailed wrapping %v", err, errDisk)
	}
	if got := len(sink.Persisted()); got != 2 {
		t.Errorf("persisted %d units, want 2", got)
	}
	if s := rec.Snapshot(); s.PersistErrors != 1 || s.UnitsPersisted != 2 {
		t.Errorf("snapshot persist counters = %d/%d", s.UnitsPersisted, s.PersistErrors)
	}
	if p.State() != StateStopped {
		t.Errorf("state = %s", p.State())
	}
}

func TestPipeline_EngineInitIsFatal(t *testing.T) {
	t.Parallel()

	// Two workers, one engine.
	pool, err := recognition.New(ocrmock.Factory(&ocrmock.Engine{}), recognition.Config{Workers: 2, MaxRetries: 1})
	if err != nil {
		t.Fatalf("recognition.New: %v", err)
	}
	p, err := New(burst(0, nil), pool, &sinkmock.Sink{}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := wait(t, runAsync(p, context.Background())); !errors.Is(err, recognition.ErrEngineInit) {
		t.Fatalf("Run err = %v, want ErrEngineInit", err)
	}
}

func TestPipeline_SourceRestartsAfterPanic(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	src := funcSource(func(ctx context.Context, out chan<- *types.CapturedFrame) error {
		switch runs.Add(1) {
		case 1:
			panic("capture backend crashed")
		case 2:
			return errors.New("transient")
		}
		return burst(3, nil)(ctx, out)
	})
	sink := &sinkmock.Sink{}

	p, err := New(src, newPool(t, observe.NewRecorder(nil), &ocrmock.Engine{Page: helloPage()}), sink,
		Config{RestartDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)
	waitFor(t, "units after restart", func() bool { return len(sink.Persisted()) == 3 })
	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Errorf("source runs = %d, want 3", got)
	}
}

// panicOnce panics on its first Run and then delegates.
type panicOnce struct {
	once sync.Once
	next Recognizer
}

func (r *panicOnce) Run(ctx context.Context, in <-chan *types.CapturedFrame, out chan<- types.ProcessedUnit, sinkGone <-chan struct{}) error {
	panicked := false
	r.once.Do(func() { panicked = true })
	if panicked {
		panic("pool exploded")
	}
	return r.next.Run(ctx, in, out, sinkGone)
}

func TestPipeline_RecognitionRestartsAfterPanic(t *testing.T) {
	t.Parallel()

	sink := &sinkmock.Sink{}
	pool := &panicOnce{next: newPool(t, observe.NewRecorder(nil), &ocrmock.Engine{Page: helloPage()})}
	p, err := New(burst(2, nil), pool, sink, Config{RestartDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)
	waitFor(t, "units after restart", func() bool { return len(sink.Persisted()) == 2 })
	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPipeline_RunTwice(t *testing.T) {
	t.Parallel()

	p, err := New(burst(0, nil), newPool(t, observe.NewRecorder(nil), &ocrmock.Engine{}), &sinkmock.Sink{}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := p.Run(ctx); err == nil {
		t.Error("second Run succeeded, want error")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	pool := newPool(t, observe.NewRecorder(nil), &ocrmock.Engine{})
	tests := []struct {
		name string
		src  FrameSource
		pool Recognizer
		sink *sinkmock.Sink
	}{
		{"nil source", nil, pool, &sinkmock.Sink{}},
		{"nil pool", burst(0, nil), nil, &sinkmock.Sink{}},
		{"nil sink", burst(0, nil), pool, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var s interface {
				Persist(context.Context, types.ProcessedUnit) error
				Close() error
			}
			if tc.sink != nil {
				s = tc.sink
			}
			if _, err := New(tc.src, tc.pool, s, Config{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateIdle:     "idle",
		StateRunning:  "running",
		StateStopping: "stopping",
		StateStopped:  "stopped",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
