// Package redis provides a [sink.Sink] that appends every processed unit to
// a Redis stream, so other services can consume captured text with XREAD or
// consumer groups.
//
// Each entry is a flat field map: scalar frame metadata plus the regions as
// a JSON string.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/glimpse/pkg/sink"
	"github.com/MrWong99/glimpse/pkg/types"
)

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)

// Defaults.
const (
	DefaultStream = "glimpse:captures"
	DefaultMaxLen = 10000
)

// Sink appends units to a Redis stream.
type Sink struct {
	client *goredis.Client
	stream string
	maxLen int64
	closed atomic.Bool
}

// Option configures a [Sink].
type Option func(*Sink)

// WithStream sets the stream key. Defaults to [DefaultStream].
func WithStream(name string) Option {
	return func(s *Sink) {
		if name != "" {
			s.stream = name
		}
	}
}

// WithMaxLen caps the stream at roughly n entries using approximate
// trimming. n <= 0 disables trimming. Defaults to [DefaultMaxLen].
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// New connects to the Redis server at url (redis:// or rediss://) and
// verifies the connection.
func New(ctx context.Context, url string, opts ...Option) (*Sink, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis sink: ping: %w", err)
	}
	return newSink(client, opts...), nil
}

// NewFromClient wraps an existing client. The Sink takes ownership and
// closes it on Close.
func NewFromClient(client *goredis.Client, opts ...Option) *Sink {
	return newSink(client, opts...)
}

func newSink(client *goredis.Client, opts ...Option) *Sink {
	s := &Sink{client: client, stream: DefaultStream, maxLen: DefaultMaxLen}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream returns the stream key entries are written to.
func (s *Sink) Stream() string { return s.stream }

// Persist appends u to the stream.
func (s *Sink) Persist(ctx context.Context, u types.ProcessedUnit) error {
	if s.closed.Load() {
		return sink.ErrClosed
	}
	if u.Frame == nil {
		return fmt.Errorf("redis sink: unit has no frame")
	}
	values, err := Fields(sink.NewRecord(u))
	if err != nil {
		return err
	}

	args := &goredis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis sink: xadd %s: %w", s.stream, err)
	}
	return nil
}

// Fields flattens r into the stream entry's field map.
func Fields(r sink.Record) (map[string]any, error) {
	regions, err := json.Marshal(r.Regions)
	if err != nil {
		return nil, fmt.Errorf("redis sink: marshal regions: %w", err)
	}
	return map[string]any{
		"id":            r.ID,
		"seq":           strconv.FormatUint(r.Seq, 10),
		"captured_at":   r.CapturedAt,
		"monitor_index": strconv.Itoa(r.MonitorIndex),
		"window_title":  r.WindowTitle,
		"process_name":  r.ProcessName,
		"width":         strconv.Itoa(r.Width),
		"height":        strconv.Itoa(r.Height),
		"full_text":     r.FullText,
		"regions":       string(regions),
		"processing_ms": strconv.FormatInt(r.ProcessingMS, 10),
	}, nil
}

// Ping checks the server connection.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client. Safe to call more than once.
func (s *Sink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}
