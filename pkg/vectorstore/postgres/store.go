package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/embedkit/pkg/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

// Store is the PostgreSQL-backed vector store. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewStore creates a connection pool to dsn, registers pgvector types on every
// connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dimensions: embeddingDimensions}, nil
}

// Dimensions returns the vector size the schema was created with.
func (s *Store) Dimensions() int { return s.dimensions }

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [vectorstore.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Upsert implements [vectorstore.Store]. All documents are written in one
// transaction through a pgx batch; created_at is preserved on conflict.
func (s *Store) Upsert(ctx context.Context, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if len(d.Embedding) != s.dimensions {
			return fmt.Errorf("postgres store: upsert %q: %w: got %d, want %d",
				d.ID, vectorstore.ErrDimensionMismatch, len(d.Embedding), s.dimensions)
		}
	}

	const q = `
		INSERT INTO documents
		    (collection, id, content, embedding, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (collection, id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    metadata   = EXCLUDED.metadata,
		    updated_at = now()`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, d := range docs {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		md := d.Metadata
		if md == nil {
			md = map[string]string{}
		}
		batch.Queue(q, d.Collection, d.ID, d.Content, pgvector.NewVector(d.Embedding), md, createdAt)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("postgres store: upsert: %w", err)
	}
	return nil
}

// Query implements [vectorstore.Store] using the pgvector cosine distance
// operator (<=>).
func (s *Store) Query(ctx context.Context, embedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("postgres store: query: %w: got %d, want %d",
			vectorstore.ErrDimensionMismatch, len(embedding), s.dimensions)
	}
	if topK <= 0 {
		topK = 10
	}

	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	where, args := whereClause(filter, args)
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT collection, id, content, embedding, metadata, created_at,
		       embedding <=> $1 AS distance
		FROM   documents
		%s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorstore.Result, error) {
		var (
			r   vectorstore.Result
			vec pgvector.Vector
		)
		if err := row.Scan(
			&r.Document.Collection,
			&r.Document.ID,
			&r.Document.Content,
			&vec,
			&r.Document.Metadata,
			&r.Document.CreatedAt,
			&r.Distance,
		); err != nil {
			return vectorstore.Result{}, err
		}
		r.Document.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []vectorstore.Result{}
	}
	return results, nil
}

// Delete implements [vectorstore.Store].
func (s *Store) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = ANY($2)`,
		collection, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count implements [vectorstore.Store].
func (s *Store) Count(ctx context.Context, filter vectorstore.Filter) (int, error) {
	where, args := whereClause(filter, nil)
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM documents "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

// whereClause appends filter parameters to args and returns the matching
// WHERE clause (empty when the filter is empty).
func whereClause(filter vectorstore.Filter, args []any) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.Collection != "" {
		conditions = append(conditions, "collection = "+next(filter.Collection))
	}
	if len(filter.Metadata) > 0 {
		conditions = append(conditions, "metadata @> "+next(filter.Metadata))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, "\n  AND "), args
}
