package observe

import (
	"context"
	"log/slog"
	"time"
)

// Reporter periodically logs a counter snapshot.
type Reporter struct {
	rec      *Recorder
	interval time.Duration
	logger   *slog.Logger
}

// NewReporter returns a Reporter logging rec every interval. A nil logger uses
// slog.Default().
func NewReporter(rec *Recorder, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{rec: rec, interval: interval, logger: logger}
}

// Run logs every interval until ctx is done, then logs one final snapshot.
// A non-positive interval disables periodic output but still logs the final
// snapshot.
func (r *Reporter) Run(ctx context.Context) {
	defer r.Report("final pipeline stats")

	if r.interval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Report("pipeline stats")
		}
	}
}

// Report logs one snapshot with msg.
func (r *Reporter) Report(msg string) {
	s := r.rec.Snapshot()
	r.logger.Info(msg,
		"frames_captured", s.FramesCaptured,
		"capture_errors", s.CaptureErrors,
		"frames_discarded_unchanged", s.FramesDiscardedUnchanged,
		"frames_processed", s.FramesProcessed,
		"recognition_errors", s.RecognitionErrors,
		"recognition_retries", s.RecognitionRetries,
		"regions_extracted", s.RegionsExtracted,
		"below_confidence_filtered", s.BelowConfidenceFiltered,
		"empty_results", s.EmptyResults,
		"units_persisted", s.UnitsPersisted,
		"success_rate", s.SuccessRate,
		"avg_processing_time", s.AvgProcessingTime,
		"total_processing_time", s.TotalProcessingTime,
	)
}
