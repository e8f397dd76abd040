package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/glimpse/pkg/provider/embeddings"
	"github.com/MrWong99/glimpse/pkg/sink"
	"github.com/MrWong99/glimpse/pkg/types"
)

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)

// Sink writes processed units into the captures table.
//
// All methods are safe for concurrent use.
type Sink struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	dims     int
	logger   *slog.Logger
	closed   atomic.Bool
}

// Option configures a [Sink].
type Option func(*Sink)

// WithEmbedder fills the embedding column for units with non-empty text.
// The provider's dimensions must equal the table's.
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Sink) { s.embedder = p }
}

// WithLogger sets the logger used for non-fatal embedding failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// NewSink connects to the database at dsn, registers pgvector types on every
// connection and runs [Migrate].
func NewSink(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Sink, error) {
	s := &Sink{dims: embeddingDimensions, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.embedder != nil && s.embedder.Dimensions() != embeddingDimensions {
		return nil, fmt.Errorf("postgres sink: embedder %q produces %d dimensions, table expects %d",
			s.embedder.ModelID(), s.embedder.Dimensions(), embeddingDimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: %w", err)
	}

	s.pool = pool
	return s, nil
}

const upsertCapture = `
INSERT INTO captures
    (id, seq, captured_at, monitor_index, window_title, process_name,
     width, height, full_text, regions, processing_ns, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    full_text     = EXCLUDED.full_text,
    regions       = EXCLUDED.regions,
    processing_ns = EXCLUDED.processing_ns,
    embedding     = COALESCE(EXCLUDED.embedding, captures.embedding)`

// Persist upserts u. An embedding failure is logged and the row is stored
// without a vector; only database errors are returned.
func (s *Sink) Persist(ctx context.Context, u types.ProcessedUnit) error {
	if s.closed.Load() {
		return sink.ErrClosed
	}
	if u.Frame == nil {
		return fmt.Errorf("postgres sink: unit has no frame")
	}

	regions := u.Result.Regions
	if regions == nil {
		regions = []types.TextRegion{}
	}
	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("postgres sink: marshal regions: %w", err)
	}

	var title, process string
	if w := u.Frame.Window; w != nil {
		title, process = w.Title, w.ProcessName
	}

	_, err = s.pool.Exec(ctx, upsertCapture,
		u.Frame.ID,
		int64(u.Frame.Seq),
		u.Frame.CapturedAt,
		u.Frame.MonitorIndex,
		title,
		process,
		u.Result.Width,
		u.Result.Height,
		u.Result.FullText,
		regionsJSON,
		u.Result.Duration.Nanoseconds(),
		s.embed(ctx, u),
	)
	if err != nil {
		return fmt.Errorf("postgres sink: upsert %s: %w", u.Frame.ID, err)
	}
	return nil
}

// embed returns the vector for u's text, or nil when there is no embedder,
// no text, or the provider failed.
func (s *Sink) embed(ctx context.Context, u types.ProcessedUnit) *pgvector.Vector {
	text := strings.TrimSpace(u.Result.FullText)
	if s.embedder == nil || text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.WarnContext(ctx, "embedding failed, storing capture without vector",
			"frame_id", u.Frame.ID, "model", s.embedder.ModelID(), "err", err)
		return nil
	}
	if len(vec) != s.dims {
		s.logger.WarnContext(ctx, "embedding has wrong dimensions, storing capture without vector",
			"frame_id", u.Frame.ID, "got", len(vec), "want", s.dims)
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

// Hit is one search result.
type Hit struct {
	sink.Record
	Rank float64
}

// Search returns up to limit captures whose text matches query, best match
// first.
func (s *Sink) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, seq, captured_at, monitor_index, window_title, process_name,
       width, height, full_text, regions, processing_ns,
       ts_rank(to_tsvector('english', full_text), plainto_tsquery('english', $1)) AS rank
FROM captures
WHERE to_tsvector('english', full_text) @@ plainto_tsquery('english', $1)
ORDER BY rank DESC, captured_at DESC
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h           Hit
			id          uuid.UUID
			seq         int64
			capturedAt  time.Time
			regionsJSON []byte
			procNS      int64
		)
		if err := rows.Scan(&id, &seq, &capturedAt, &h.MonitorIndex, &h.WindowTitle, &h.ProcessName,
			&h.Width, &h.Height, &h.FullText, &regionsJSON, &procNS, &h.Rank); err != nil {
			return nil, fmt.Errorf("postgres sink: scan: %w", err)
		}
		if err := json.Unmarshal(regionsJSON, &h.Regions); err != nil {
			return nil, fmt.Errorf("postgres sink: decode regions: %w", err)
		}
		h.ID = id.String()
		h.Seq = uint64(seq)
		h.CapturedAt = capturedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		h.ProcessingMS = time.Duration(procNS).Milliseconds()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres sink: search rows: %w", err)
	}
	return hits, nil
}

// Ping checks the database connection.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Sink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}
