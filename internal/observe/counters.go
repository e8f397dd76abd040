package observe

import (
	"sync/atomic"
	"time"
)

// Counters are the in-process pipeline counters. They are monotonic for the
// lifetime of a run and safe for concurrent use.
type Counters struct {
	FramesCaptured           atomic.Int64
	CaptureErrors            atomic.Int64
	FramesDiscardedUnchanged atomic.Int64
	FramesProcessed          atomic.Int64
	RecognitionErrors        atomic.Int64
	RecognitionRetries       atomic.Int64
	RegionsExtracted         atomic.Int64
	BelowConfidenceFiltered  atomic.Int64
	EmptyResults             atomic.Int64
	UnitsPersisted           atomic.Int64
	PersistErrors            atomic.Int64

	// processingNanos accumulates recognition wall time.
	processingNanos atomic.Int64
}

// AddProcessingTime adds d to the total recognition time.
func (c *Counters) AddProcessingTime(d time.Duration) {
	c.processingNanos.Add(int64(d))
}

// TotalProcessingTime returns the accumulated recognition time.
func (c *Counters) TotalProcessingTime() time.Duration {
	return time.Duration(c.processingNanos.Load())
}

// Snapshot is a point-in-time copy of [Counters]. Fields are read one by one,
// so a snapshot taken while the pipeline runs is not a single atomic cut.
type Snapshot struct {
	FramesCaptured           int64         `json:"frames_captured"`
	CaptureErrors            int64         `json:"capture_errors"`
	FramesDiscardedUnchanged int64         `json:"frames_discarded_unchanged"`
	FramesProcessed          int64         `json:"frames_processed"`
	RecognitionErrors        int64         `json:"recognition_errors"`
	RecognitionRetries       int64         `json:"recognition_retries"`
	RegionsExtracted         int64         `json:"regions_extracted"`
	BelowConfidenceFiltered  int64         `json:"below_confidence_filtered"`
	EmptyResults             int64         `json:"empty_results"`
	UnitsPersisted           int64         `json:"units_persisted"`
	PersistErrors            int64         `json:"persist_errors"`
	TotalProcessingTime      time.Duration `json:"total_processing_time_ns"`
	SuccessRate              float64       `json:"success_rate"`
	AvgProcessingTime        time.Duration `json:"avg_processing_time_ns"`
}

// Snapshot reads all counters.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		FramesCaptured:           c.FramesCaptured.Load(),
		CaptureErrors:            c.CaptureErrors.Load(),
		FramesDiscardedUnchanged: c.FramesDiscardedUnchanged.Load(),
		FramesProcessed:          c.FramesProcessed.Load(),
		RecognitionErrors:        c.RecognitionErrors.Load(),
		RecognitionRetries:       c.RecognitionRetries.Load(),
		RegionsExtracted:         c.RegionsExtracted.Load(),
		BelowConfidenceFiltered:  c.BelowConfidenceFiltered.Load(),
		EmptyResults:             c.EmptyResults.Load(),
		UnitsPersisted:           c.UnitsPersisted.Load(),
		PersistErrors:            c.PersistErrors.Load(),
		TotalProcessingTime:      c.TotalProcessingTime(),
	}
	s.SuccessRate = SuccessRate(s.FramesProcessed, s.RecognitionErrors)
	if s.FramesProcessed > 0 {
		s.AvgProcessingTime = s.TotalProcessingTime / time.Duration(s.FramesProcessed)
	}
	return s
}

// SuccessRate returns (processed-errors)/processed, or 1 when nothing has been
// processed yet.
func SuccessRate(processed, errors int64) float64 {
	if processed <= 0 {
		return 1
	}
	return float64(processed-errors) / float64(processed)
}
