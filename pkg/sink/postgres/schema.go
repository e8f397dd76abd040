// Package postgres provides a PostgreSQL-backed [sink.Sink].
//
// Every processed unit becomes one row in the captures table, keyed by frame
// ID. Text is searchable through a GIN full-text index and, when an
// embeddings provider is configured, through an HNSW index over the
// embedding column. The pgvector extension must be available in the target
// database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	s, err := postgres.NewSink(ctx, dsn, 1536, postgres.WithEmbedder(emb))
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.Persist(ctx, unit)
//	hits, _ := s.Search(ctx, "quarterly report", 10)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCaptures returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlCaptures(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS captures (
    id             UUID         PRIMARY KEY,
    seq            BIGINT       NOT NULL,
    captured_at    TIMESTAMPTZ  NOT NULL,
    monitor_index  INTEGER      NOT NULL DEFAULT 0,
    window_title   TEXT         NOT NULL DEFAULT '',
    process_name   TEXT         NOT NULL DEFAULT '',
    width          INTEGER      NOT NULL,
    height         INTEGER      NOT NULL,
    full_text      TEXT         NOT NULL DEFAULT '',
    regions        JSONB        NOT NULL DEFAULT '[]',
    processing_ns  BIGINT       NOT NULL DEFAULT 0,
    embedding      vector(%d),
    inserted_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_captures_captured_at
    ON captures (captured_at);

CREATE INDEX IF NOT EXISTS idx_captures_process_name
    ON captures (process_name);

CREATE INDEX IF NOT EXISTS idx_captures_fts
    ON captures USING GIN (to_tsvector('english', full_text));

CREATE INDEX IF NOT EXISTS idx_captures_embedding
    ON captures USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the captures table and its indexes. It is idempotent and
// safe to call on every start.
//
// embeddingDimensions must match the embedding model, if any (e.g. 1536 for
// OpenAI text-embedding-3-small, 768 for nomic-embed-text). Changing it after
// the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlCaptures(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
