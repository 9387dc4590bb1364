// Package postgres provides a PostgreSQL/pgvector implementation of
// vectorstore.Store.
//
// Documents live in a single table keyed by (collection, id) with a
// vector(N) column indexed by HNSW for cosine distance and a GIN index over
// JSONB metadata. The pgvector extension must be available in the target
// database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Upsert(ctx, docs)
//	results, _ := store.Query(ctx, queryVec, 5, vectorstore.Filter{Collection: "notes"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlDocuments returns the DDL with the embedding dimension substituted. The
// dimension is baked into the column type at schema creation time.
func ddlDocuments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    collection  TEXT         NOT NULL,
    id          TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_documents_metadata
    ON documents USING GIN (metadata);
`, embeddingDimensions)
}

// Migrate creates the documents table and its indexes. It is idempotent and
// safe to call on every start.
//
// embeddingDimensions must match the embedding model (e.g. 768 for
// togethercomputer/m2-bert-80M-8k-retrieval). Changing it after the first
// migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlDocuments(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
