package recognition

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glimpse/internal/observe"
	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/provider/ocr/mock"
	"github.com/MrWong99/glimpse/pkg/types"
)

var errEngine = errors.New("engine failure")

func textPage(conf float64, words ...string) ocr.Page {
	line := ocr.Line{}
	for i, w := range words {
		line.Words = append(line.Words, ocr.Word{Text: w, Confidence: conf, Box: image.Rect(i*10, 0, i*10+8, 8)})
	}
	return ocr.Page{Lines: []ocr.Line{line}}
}

func testFrame(seq uint64) *types.CapturedFrame {
	return types.NewCapturedFrame(seq, image.NewRGBA(image.Rect(0, 0, 4, 3)), 0, nil, time.Now())
}

// sleepRecorder records backoff waits without sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type harness struct {
	pool   *Pool
	rec    *observe.Recorder
	sleeps *sleepRecorder
}

func newHarness(t *testing.T, cfg Config, engines ...*mock.Engine) *harness {
	t.Helper()
	h := &harness{rec: observe.NewRecorder(nil), sleeps: &sleepRecorder{}}
	p, err := New(mock.Factory(engines...), cfg, WithRecorder(h.rec), WithSleep(h.sleeps.Sleep))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.pool = p
	return h
}

// runAll feeds frames, closes the input and collects every result.
func (h *harness) runAll(t *testing.T, ctx context.Context, frames ...*types.CapturedFrame) ([]types.ProcessedUnit, error) {
	t.Helper()
	in := make(chan *types.CapturedFrame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)
	out := make(chan types.ProcessedUnit, len(frames))
	err := h.pool.Run(ctx, in, out, make(chan struct{}))
	close(out)
	var units []types.ProcessedUnit
	for u := range out {
		units = append(units, u)
	}
	return units, err
}

func defaultConfig() Config {
	return Config{
		Workers:       1,
		MinConfidence: DefaultMinConfidence,
		MaxRetries:    DefaultMaxRetries,
		RetryBackoff:  DefaultRetryBackoff,
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, defaultConfig()); err == nil {
		t.Error("nil factory accepted")
	}
	cfg := defaultConfig()
	cfg.Workers = 0
	if _, err := New(mock.Factory(), cfg); err == nil {
		t.Error("zero workers accepted")
	}
}

func TestPool_ForwardsRecognisedFrames(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Page: textPage(0.9, "Total", "42")}
	h := newHarness(t, defaultConfig(), eng)

	f := testFrame(1)
	units, err := h.runAll(t, context.Background(), f)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Frame != f {
		t.Error("unit does not reference the original frame")
	}
	if u.Result.FullText != "Total 42" || u.Result.Width != 4 || u.Result.Height != 3 {
		t.Errorf("result = %+v", u.Result)
	}
	if !eng.Closed() {
		t.Error("engine not closed after Run")
	}
	for _, img := range eng.Images {
		if !img.Closed() {
			t.Error("native image not released")
		}
	}

	s := h.rec.Snapshot()
	if s.FramesProcessed != 1 || s.RegionsExtracted != 1 || s.RecognitionErrors != 0 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestPool_EmptyResults(t *testing.T) {
	t.Parallel()

	for _, storeEmpty := range []bool{false, true} {
		cfg := defaultConfig()
		cfg.StoreEmpty = storeEmpty
		// All regions fall below the threshold.
		eng := &mock.Engine{Page: textPage(0.1, "blurry")}
		h := newHarness(t, cfg, eng)

		units, err := h.runAll(t, context.Background(), testFrame(1))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		wantUnits := 0
		if storeEmpty {
			wantUnits = 1
		}
		if len(units) != wantUnits {
			t.Errorf("store_empty=%v: got %d units, want %d", storeEmpty, len(units), wantUnits)
		}
		s := h.rec.Snapshot()
		if s.EmptyResults != 1 || s.BelowConfidenceFiltered != 1 {
			t.Errorf("store_empty=%v: snapshot = %+v", storeEmpty, s)
		}
	}
}

func TestPool_RetriesWithExponentialBackoff(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{
		Page:          textPage(0.9, "ok"),
		RecognizeErrs: []error{errEngine, errEngine},
	}
	cfg := defaultConfig()
	cfg.RetryBackoff = 100 * time.Millisecond
	h := newHarness(t, cfg, eng)

	units, err := h.runAll(t, context.Background(), testFrame(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if eng.Calls() != 3 {
		t.Errorf("recognize calls = %d, want 3", eng.Calls())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	got := h.sleeps.Delays()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("backoff delays = %v, want %v", got, want)
	}
	s := h.rec.Snapshot()
	if s.RecognitionRetries != 2 || s.RecognitionErrors != 0 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestPool_DropsFrameAfterMaxRetries(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{RecognizeErrs: []error{errEngine, errEngine, errEngine, errEngine}}
	h := newHarness(t, defaultConfig(), eng)

	units, err := h.runAll(t, context.Background(), testFrame(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("got %d units, want 0", len(units))
	}
	if eng.Calls() != DefaultMaxRetries {
		t.Errorf("attempts = %d, want %d", eng.Calls(), DefaultMaxRetries)
	}
	s := h.rec.Snapshot()
	if s.RecognitionErrors != 1 || s.FramesProcessed != 1 {
		t.Errorf("snapshot = %+v, want exactly one recognition error", s)
	}
	if got := h.sleeps.Delays(); len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("backoff delays = %v", got)
	}
}

func TestPool_EnginePanicIsRetried(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{
		RecognizeFunc: func(call int, _ ocr.Image) (ocr.Page, error) {
			if call == 1 {
				panic("segfault in native code")
			}
			return textPage(0.9, "recovered"), nil
		},
	}
	h := newHarness(t, defaultConfig(), eng)

	units, err := h.runAll(t, context.Background(), testFrame(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(units) != 1 || units[0].Result.FullText != "recovered" {
		t.Errorf("units = %+v", units)
	}
}

func TestPool_NewImageFailureCountsAsAttempt(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{NewImageErr: errEngine}
	cfg := defaultConfig()
	cfg.MaxRetries = 2
	h := newHarness(t, cfg, eng)

	if _, err := h.runAll(t, context.Background(), testFrame(1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.NewImageCalls != 2 || eng.Calls() != 0 {
		t.Errorf("NewImage calls = %d Recognize calls = %d", eng.NewImageCalls, eng.Calls())
	}
	if h.rec.Snapshot().RecognitionErrors != 1 {
		t.Error("recognition error not counted")
	}
}

func TestPool_EngineInitFailureIsFatal(t *testing.T) {
	t.Parallel()

	first := &mock.Engine{}
	// The factory has only one engine, so the second worker fails.
	cfg := defaultConfig()
	cfg.Workers = 2
	h := newHarness(t, cfg, first)

	_, err := h.runAll(t, context.Background())
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("err = %v, want ErrEngineInit", err)
	}
	if !first.Closed() {
		t.Error("already built engine not closed")
	}
}

func TestPool_FactoryPanicIsInitFailure(t *testing.T) {
	t.Parallel()

	p, err := New(func() (ocr.Engine, error) { panic("no tessdata") }, defaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := make(chan *types.CapturedFrame)
	close(in)
	if err := p.Run(context.Background(), in, make(chan types.ProcessedUnit), nil); !errors.Is(err, ErrEngineInit) {
		t.Errorf("err = %v, want ErrEngineInit", err)
	}
}

func TestPool_DrainsQueueAfterShutdownWithSingleAttempt(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{
		RecognizeFunc: func(call int, _ ocr.Image) (ocr.Page, error) {
			// Every other call fails; after shutdown no retry may happen.
			if call%2 == 0 {
				return ocr.Page{}, errEngine
			}
			return textPage(0.9, "queued"), nil
		},
	}
	h := newHarness(t, defaultConfig(), eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames := []*types.CapturedFrame{testFrame(1), testFrame(2), testFrame(3), testFrame(4)}
	units, err := h.runAll(t, ctx, frames...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.Calls() != len(frames) {
		t.Errorf("recognize calls = %d, want one per queued frame (%d)", eng.Calls(), len(frames))
	}
	if len(units) != 2 {
		t.Errorf("got %d units, want 2", len(units))
	}
	if s := h.rec.Snapshot(); s.RecognitionErrors != 2 || s.FramesProcessed != 4 {
		t.Errorf("snapshot = %+v", s)
	}
	if len(h.sleeps.Delays()) != 2 {
		// Retry asks to sleep once per failed frame, and the cancelled
		// context ends the wait immediately.
		t.Errorf("sleep calls = %d, want 2", len(h.sleeps.Delays()))
	}
}

func TestPool_StopsDeliveringWhenSinkGone(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Page: textPage(0.9, "x")}
	h := newHarness(t, defaultConfig(), eng)

	in := make(chan *types.CapturedFrame, 3)
	for i := range 3 {
		in <- testFrame(uint64(i))
	}
	close(in)
	out := make(chan types.ProcessedUnit) // never read
	sinkGone := make(chan struct{})
	close(sinkGone)

	done := make(chan error, 1)
	go func() { done <- h.pool.Run(context.Background(), in, out, sinkGone) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run blocked on a gone sink")
	}
	if eng.Calls() != 1 {
		t.Errorf("recognize calls = %d, want 1 before the gone sink was noticed", eng.Calls())
	}
}

func TestPool_ParallelWorkersOwnTheirEngines(t *testing.T) {
	t.Parallel()

	engines := []*mock.Engine{
		{Page: textPage(0.9, "a")},
		{Page: textPage(0.9, "b")},
		{Page: textPage(0.9, "c")},
	}
	cfg := defaultConfig()
	cfg.Workers = 3
	h := newHarness(t, cfg, engines...)

	var frames []*types.CapturedFrame
	for i := range 30 {
		frames = append(frames, testFrame(uint64(i)))
	}
	units, err := h.runAll(t, context.Background(), frames...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(units) != 30 {
		t.Errorf("got %d units, want 30", len(units))
	}
	total := 0
	for _, e := range engines {
		total += e.Calls()
		if !e.Closed() {
			t.Error("engine not closed")
		}
	}
	if total != 30 {
		t.Errorf("total recognize calls = %d, want 30", total)
	}
}
