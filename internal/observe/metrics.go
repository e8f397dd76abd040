// Package observe provides the observability primitives for glimpse: atomic
// pipeline counters, OpenTelemetry metrics and tracing, a periodic reporter
// and HTTP middleware for the ops server.
//
// Pipeline stages report events through a [Recorder], which updates the
// in-process [Counters] (read by /stats and the reporter) and, when
// configured, the OpenTelemetry instruments in [Metrics] (scraped via
// /metrics). Tests should build Metrics with [NewMetrics] on a private
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all glimpse metrics.
const meterName = "github.com/MrWong99/glimpse"

// Metrics holds the OpenTelemetry instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// CaptureDuration tracks how long one screen grab takes.
	CaptureDuration metric.Float64Histogram

	// RecognitionDuration tracks per-frame recognition latency including
	// retries.
	RecognitionDuration metric.Float64Histogram

	// PersistDuration tracks sink write latency.
	PersistDuration metric.Float64Histogram

	// ChangeRatio records the change ratio of every compared frame.
	ChangeRatio metric.Float64Histogram

	// Frames counts frames by outcome. Use with attribute
	//   attribute.String("outcome", "captured"|"unchanged"|"processed"|"empty"|"failed")
	Frames metric.Int64Counter

	// Regions counts text regions. Use with attribute
	//   attribute.String("outcome", "kept"|"filtered")
	Regions metric.Int64Counter

	// Errors counts failures by stage. Use with attribute
	//   attribute.String("stage", "capture"|"recognition"|"persist")
	Errors metric.Int64Counter

	// Retries counts recognition retry attempts.
	Retries metric.Int64Counter

	// Persisted counts units accepted by the sink.
	Persisted metric.Int64Counter

	// BusyWorkers tracks recognition workers currently processing a frame.
	BusyWorkers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks ops server request latency. Use with
	// attributes attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds. Recognition of a
// full-screen frame routinely takes hundreds of milliseconds to seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var ratioBuckets = []float64{
	0, 0.001, 0.003, 0.006, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc, unit string, buckets []float64) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	}

	if met.CaptureDuration, err = hist("glimpse.capture.duration",
		"Latency of one screen capture.", "s", latencyBuckets); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = hist("glimpse.recognition.duration",
		"Latency of recognising one frame, including retries.", "s", latencyBuckets); err != nil {
		return nil, err
	}
	if met.PersistDuration, err = hist("glimpse.persist.duration",
		"Latency of writing one unit to the sink.", "s", latencyBuckets); err != nil {
		return nil, err
	}
	if met.ChangeRatio, err = hist("glimpse.change.ratio",
		"Fraction of sampled pixels that changed against the reference frame.", "1", ratioBuckets); err != nil {
		return nil, err
	}

	if met.Frames, err = m.Int64Counter("glimpse.frames",
		metric.WithDescription("Frames by pipeline outcome."),
	); err != nil {
		return nil, err
	}
	if met.Regions, err = m.Int64Counter("glimpse.regions",
		metric.WithDescription("Recognised text regions by filter outcome."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("glimpse.errors",
		metric.WithDescription("Failures by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("glimpse.recognition.retries",
		metric.WithDescription("Recognition retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.Persisted, err = m.Int64Counter("glimpse.persisted",
		metric.WithDescription("Units written to the sink."),
	); err != nil {
		return nil, err
	}

	if met.BusyWorkers, err = m.Int64UpDownCounter("glimpse.recognition.busy_workers",
		metric.WithDescription("Recognition workers currently processing a frame."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("glimpse.http.request.duration",
		metric.WithDescription("Ops HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level [Metrics] built on
// [otel.GetMeterProvider] on first call. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func (m *Metrics) frame(ctx context.Context, outcome string) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

func (m *Metrics) stageError(ctx context.Context, stage string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}
