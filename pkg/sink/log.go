package sink

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/glimpse/pkg/types"
)

// Log is a Sink that only writes a log line per unit. It is useful for
// trying the pipeline without a database.
type Log struct {
	logger   *slog.Logger
	maxChars int
	closed   atomic.Bool
}

// NewLog returns a Log sink. Text longer than maxChars is cut in the log
// line; maxChars <= 0 logs it in full. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger, maxChars int) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, maxChars: maxChars}
}

// Persist implements Sink.
func (l *Log) Persist(ctx context.Context, u types.ProcessedUnit) error {
	if l.closed.Load() {
		return ErrClosed
	}
	text := u.Result.FullText
	if l.maxChars > 0 {
		if r := []rune(text); len(r) > l.maxChars {
			text = string(r[:l.maxChars]) + "…"
		}
	}
	attrs := []any{
		"frame_id", u.Frame.ID,
		"seq", u.Frame.Seq,
		"monitor", u.Frame.MonitorIndex,
		"regions", len(u.Result.Regions),
		"duration", u.Result.Duration,
		"text", text,
	}
	if w := u.Frame.Window; w != nil {
		attrs = append(attrs, "process", w.ProcessName, "window", w.Title)
	}
	l.logger.InfoContext(ctx, "frame text", attrs...)
	return nil
}

// Close implements Sink.
func (l *Log) Close() error {
	l.closed.Store(true)
	return nil
}

var _ Sink = (*Log)(nil)
