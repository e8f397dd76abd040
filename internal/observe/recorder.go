package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Recorder is the single entry point pipeline stages use to report events.
// Every event updates the atomic [Counters] and, when set, the OTel
// [Metrics]. A Recorder is safe for concurrent use.
type Recorder struct {
	c *Counters
	m *Metrics
}

// NewRecorder returns a Recorder with fresh counters. m may be nil, in which
// case only the counters are maintained.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{c: &Counters{}, m: m}
}

// Metrics returns the OTel instruments, or nil.
func (r *Recorder) Metrics() *Metrics { return r.m }

// Counters exposes the underlying counters.
func (r *Recorder) Counters() *Counters { return r.c }

// Snapshot is shorthand for r.Counters().Snapshot().
func (r *Recorder) Snapshot() Snapshot { return r.c.Snapshot() }

// Captured records a successful capture that took d.
func (r *Recorder) Captured(ctx context.Context, d time.Duration) {
	r.c.FramesCaptured.Add(1)
	if r.m != nil {
		r.m.CaptureDuration.Record(ctx, d.Seconds())
		r.m.frame(ctx, "captured")
	}
}

// CaptureFailed records a failed or skipped capture.
func (r *Recorder) CaptureFailed(ctx context.Context) {
	r.c.CaptureErrors.Add(1)
	if r.m != nil {
		r.m.stageError(ctx, "capture")
	}
}

// Compared records a change-detector decision.
func (r *Recorder) Compared(ctx context.Context, ratio float64, retained bool) {
	if !retained {
		r.c.FramesDiscardedUnchanged.Add(1)
	}
	if r.m != nil {
		r.m.ChangeRatio.Record(ctx, ratio)
		if !retained {
			r.m.frame(ctx, "unchanged")
		}
	}
}

// Retried records one recognition retry.
func (r *Recorder) Retried(ctx context.Context) {
	r.c.RecognitionRetries.Add(1)
	if r.m != nil {
		r.m.Retries.Add(ctx, 1)
	}
}

// Recognized records a successfully recognised frame with kept regions after
// filtering and filtered regions below the confidence threshold.
func (r *Recorder) Recognized(ctx context.Context, d time.Duration, kept, filtered int) {
	r.c.FramesProcessed.Add(1)
	r.c.AddProcessingTime(d)
	r.c.RegionsExtracted.Add(int64(kept))
	r.c.BelowConfidenceFiltered.Add(int64(filtered))
	if kept == 0 {
		r.c.EmptyResults.Add(1)
	}
	if r.m == nil {
		return
	}
	r.m.RecognitionDuration.Record(ctx, d.Seconds())
	r.m.frame(ctx, "processed")
	if kept == 0 {
		r.m.frame(ctx, "empty")
	}
	r.m.Regions.Add(ctx, int64(kept), metric.WithAttributes(Attr("outcome", "kept")))
	r.m.Regions.Add(ctx, int64(filtered), metric.WithAttributes(Attr("outcome", "filtered")))
}

// RecognitionFailed records a frame dropped after its retries ran out.
func (r *Recorder) RecognitionFailed(ctx context.Context, d time.Duration) {
	r.c.FramesProcessed.Add(1)
	r.c.RecognitionErrors.Add(1)
	r.c.AddProcessingTime(d)
	if r.m != nil {
		r.m.RecognitionDuration.Record(ctx, d.Seconds())
		r.m.frame(ctx, "failed")
		r.m.stageError(ctx, "recognition")
	}
}

// WorkerBusy adjusts the busy-worker gauge by delta.
func (r *Recorder) WorkerBusy(ctx context.Context, delta int64) {
	if r.m != nil {
		r.m.BusyWorkers.Add(ctx, delta)
	}
}

// Persisted records a unit accepted by the sink.
func (r *Recorder) Persisted(ctx context.Context, d time.Duration) {
	r.c.UnitsPersisted.Add(1)
	if r.m != nil {
		r.m.PersistDuration.Record(ctx, d.Seconds())
		r.m.Persisted.Add(ctx, 1)
	}
}

// PersistFailed records a sink failure.
func (r *Recorder) PersistFailed(ctx context.Context) {
	r.c.PersistErrors.Add(1)
	if r.m != nil {
		r.m.stageError(ctx, "persist")
	}
}
