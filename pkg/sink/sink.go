// Package sink defines where recognised frames end up.
//
// The pipeline hands every [types.ProcessedUnit] to exactly one Sink. A sink
// error is fatal for the pipeline, so implementations should only fail when
// the store is genuinely unusable and retry transient errors themselves if
// they can.
//
// Implementations must be safe for concurrent use.
package sink

import (
	"context"
	"errors"

	"github.com/MrWong99/glimpse/pkg/types"
)

// ErrClosed is returned by Persist after Close.
var ErrClosed = errors.New("sink: closed")

// Sink persists processed units.
type Sink interface {
	// Persist stores u. It must not retain u.Frame.Pixels after returning.
	Persist(ctx context.Context, u types.ProcessedUnit) error

	// Close flushes and releases the sink. Calling Close more than once is
	// safe.
	Close() error
}

// Pinger is implemented by sinks that can report their backend's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Record is the storage-neutral form of a processed unit shared by the
// sink implementations.
type Record struct {
	ID           string             `json:"id"`
	Seq          uint64             `json:"seq"`
	CapturedAt   string             `json:"captured_at"`
	MonitorIndex int                `json:"monitor_index"`
	WindowTitle  string             `json:"window_title,omitempty"`
	ProcessName  string             `json:"process_name,omitempty"`
	Width        int                `json:"width"`
	Height       int                `json:"height"`
	FullText     string             `json:"full_text"`
	Regions      []types.TextRegion `json:"regions"`
	ProcessingMS int64              `json:"processing_ms"`
}

// NewRecord flattens u.
func NewRecord(u types.ProcessedUnit) Record {
	r := Record{
		ID:           u.Frame.ID.String(),
		Seq:          u.Frame.Seq,
		CapturedAt:   u.Frame.CapturedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		MonitorIndex: u.Frame.MonitorIndex,
		Width:        u.Result.Width,
		Height:       u.Result.Height,
		FullText:     u.Result.FullText,
		Regions:      u.Result.Regions,
		ProcessingMS: u.Result.Duration.Milliseconds(),
	}
	if r.Regions == nil {
		r.Regions = []types.TextRegion{}
	}
	if w := u.Frame.Window; w != nil {
		r.WindowTitle = w.Title
		r.ProcessName = w.ProcessName
	}
	return r
}
