package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWith returns the value of the sum data point carrying attribute key=value.
func sumWith(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	if m == nil {
		t.Fatal("metric not found")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestRecorder_UpdatesCountersAndMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	rec := NewRecorder(m)
	ctx := context.Background()

	rec.Captured(ctx, 0)
	rec.Captured(ctx, 0)
	rec.CaptureFailed(ctx)
	rec.Compared(ctx, 0.001, false)
	rec.Compared(ctx, 0.5, true)
	rec.Retried(ctx)
	rec.Recognized(ctx, 200_000_000, 3, 2)
	rec.Recognized(ctx, 100_000_000, 0, 1)
	rec.RecognitionFailed(ctx, 100_000_000)
	rec.Persisted(ctx, 0)
	rec.PersistFailed(ctx)

	s := rec.Snapshot()
	want := Snapshot{
		FramesCaptured:           2,
		CaptureErrors:            1,
		FramesDiscardedUnchanged: 1,
		FramesProcessed:          3,
		RecognitionErrors:        1,
		RecognitionRetries:       1,
		RegionsExtracted:         3,
		BelowConfidenceFiltered:  3,
		EmptyResults:             1,
		UnitsPersisted:           1,
		PersistErrors:            1,
		TotalProcessingTime:      400_000_000,
		SuccessRate:              2.0 / 3.0,
		AvgProcessingTime:        133_333_333,
	}
	if s != want {
		t.Errorf("snapshot =\n%+v\nwant\n%+v", s, want)
	}

	rm := collect(t, reader)
	frames := findMetric(rm, "glimpse.frames")
	for outcome, n := range map[string]int64{"captured": 2, "unchanged": 1, "processed": 2, "empty": 1, "failed": 1} {
		if got := sumWith(t, frames, "outcome", outcome); got != n {
			t.Errorf("frames{outcome=%s} = %d, want %d", outcome, got, n)
		}
	}
	errs := findMetric(rm, "glimpse.errors")
	for _, stage := range []string{"capture", "recognition", "persist"} {
		if got := sumWith(t, errs, "stage", stage); got != 1 {
			t.Errorf("errors{stage=%s} = %d, want 1", stage, got)
		}
	}
	regions := findMetric(rm, "glimpse.regions")
	if got := sumWith(t, regions, "outcome", "filtered"); got != 3 {
		t.Errorf("regions{filtered} = %d, want 3", got)
	}
	if findMetric(rm, "glimpse.change.ratio") == nil {
		t.Error("change ratio histogram not recorded")
	}
}

func TestRecorder_NilMetrics(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil)
	ctx := context.Background()
	rec.Captured(ctx, 0)
	rec.Recognized(ctx, 0, 1, 0)
	rec.WorkerBusy(ctx, 1)
	if s := rec.Snapshot(); s.FramesCaptured != 1 || s.RegionsExtracted != 1 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		processed, errors int64
		want              float64
	}{
		{0, 0, 1},
		{10, 0, 1},
		{10, 10, 0},
		{4, 1, 0.75},
	}
	for _, tc := range tests {
		if got := SuccessRate(tc.processed, tc.errors); got != tc.want {
			t.Errorf("SuccessRate(%d, %d) = %v, want %v", tc.processed, tc.errors, got, tc.want)
		}
	}
}

func TestCounters_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil)
	ctx := context.Background()
	done := make(chan struct{})
	const goroutines, each = 8, 1000
	for range goroutines {
		go func() {
			for range each {
				rec.Recognized(ctx, 1, 1, 0)
			}
			done <- struct{}{}
		}()
	}
	for range goroutines {
		<-done
	}
	if got := rec.Snapshot().FramesProcessed; got != goroutines*each {
		t.Errorf("FramesProcessed = %d, want %d", got, goroutines*each)
	}
}
