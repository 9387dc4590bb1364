// Package pipeline turns raw text into stored, searchable vectors.
//
// An [Indexer] splits its input into batches, embeds the batches concurrently
// through an [embeddings.Function] and upserts the aligned vectors into a
// [vectorstore.Store]. [Indexer.Search] embeds a single query text and runs a
// nearest-neighbour lookup against the same store.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
	"github.com/MrWong99/embedkit/pkg/vectorstore"
)

var (
	// ErrEmptyQuery is returned by [Indexer.Search] for a blank query.
	ErrEmptyQuery = errors.New("pipeline: empty query")

	// ErrCollectionRequired is returned by [Indexer.Index] without a
	// collection name.
	ErrCollectionRequired = errors.New("pipeline: collection is required")

	// ErrEmbedding wraps every failure of the embedding function, including
	// misaligned results.
	ErrEmbedding = errors.New("pipeline: embedding failed")
)

// Input is one text to be indexed.
type Input struct {
	// ID identifies the document within its collection. When empty, a
	// content hash is used so re-indexing identical text is idempotent.
	ID string `json:"id,omitempty"`

	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary reports the outcome of an [Indexer.Index] call.
type Summary struct {
	Collection string        `json:"collection"`
	Documents  int           `json:"documents"`
	Batches    int           `json:"batches"`
	Skipped    int           `json:"skipped"`
	IDs        []string      `json:"ids"`
	Duration   time.Duration `json:"duration_ns"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Indexer
// ─────────────────────────────────────────────────────────────────────────────

// Indexer embeds and stores documents. It is safe for concurrent use.
type Indexer struct {
	fn    embeddings.Function
	store vectorstore.Store

	// Tunable at runtime through SetLimits.
	batchSize   atomic.Int64
	concurrency atomic.Int64
}

// Option is a functional option for [New].
type Option func(*Indexer)

// WithBatchSize caps the number of texts sent in one embedding call.
// Defaults to 32.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize.Store(int64(n))
		}
	}
}

// WithConcurrency caps the number of embedding calls in flight. Defaults to 4.
func WithConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency.Store(int64(n))
		}
	}
}

// New creates an [Indexer].
func New(fn embeddings.Function, store vectorstore.Store, opts ...Option) *Indexer {
	ix := &Indexer{fn: fn, store: store}
	ix.batchSize.Store(32)
	ix.concurrency.Store(4)
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// SetLimits changes batch size and concurrency for subsequent [Indexer.Index]
// calls. Non-positive values leave the current setting unchanged.
func (ix *Indexer) SetLimits(batchSize, concurrency int) {
	WithBatchSize(batchSize)(ix)
	WithConcurrency(concurrency)(ix)
}

// Limits returns the current batch size and concurrency.
func (ix *Indexer) Limits() (batchSize, concurrency int) {
	return int(ix.batchSize.Load()), int(ix.concurrency.Load())
}

// Index embeds inputs and upserts them into collection.
//
// Inputs with blank content are skipped. Batches are embedded in parallel,
// but the store only sees documents once every batch succeeded, so a failed
// call leaves the collection untouched.
func (ix *Indexer) Index(ctx context.Context, collection string, inputs []Input) (Summary, error) {
	start := time.Now()
	sum := Summary{Collection: collection}
	if collection == "" {
		return sum, ErrCollectionRequired
	}

	docs := make([]vectorstore.Document, 0, len(inputs))
	for _, in := range inputs {
		if in.Content == "" {
			sum.Skipped++
			continue
		}
		id := in.ID
		if id == "" {
			id = ContentID(in.Content)
		}
		docs = append(docs, vectorstore.Document{
			ID:         id,
			Collection: collection,
			Content:    in.Content,
			Metadata:   in.Metadata,
		})
	}
	if len(docs) == 0 {
		sum.Duration = time.Since(start)
		return sum, nil
	}

	batchSize, concurrency := ix.Limits()
	batches := chunk(len(docs), batchSize)
	sum.Batches = len(batches)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, b := range batches {
		eg.Go(func() error {
			part := docs[b.lo:b.hi]
			texts := make([]string, len(part))
			for j, d := range part {
				texts[j] = d.Content
			}
			vecs, err := ix.fn.Generate(egCtx, texts)
			if err != nil {
				return fmt.Errorf("%w: batch %d: %w", ErrEmbedding, i, err)
			}
			if err := embeddings.Validate(texts, vecs); err != nil {
				return fmt.Errorf("%w: batch %d: %w", ErrEmbedding, i, err)
			}
			// Batches cover disjoint ranges of docs.
			for j := range part {
				part[j].Embedding = vecs[j]
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return sum, err
	}

	if err := ix.store.Upsert(ctx, docs); err != nil {
		return sum, fmt.Errorf("pipeline: upsert: %w", err)
	}

	sum.Documents = len(docs)
	sum.IDs = make([]string, len(docs))
	for i, d := range docs {
		sum.IDs[i] = d.ID
	}
	sum.Duration = time.Since(start)
	slog.Debug("pipeline: indexed documents",
		"collection", collection,
		"documents", sum.Documents,
		"batches", sum.Batches,
		"skipped", sum.Skipped,
		"duration", sum.Duration,
	)
	return sum, nil
}

// Search embeds query and returns the topK nearest documents in collection
// that also match metadata.
func (ix *Indexer) Search(ctx context.Context, collection, query string, topK int, metadata map[string]string) ([]vectorstore.Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	vecs, err := ix.fn.Generate(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrEmbedding, err)
	}
	if err := embeddings.Validate([]string{query}, vecs); err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrEmbedding, err)
	}
	results, err := ix.store.Query(ctx, vecs[0], topK, vectorstore.Filter{
		Collection: collection,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: search: %w", err)
	}
	return results, nil
}

// Delete removes documents by ID from collection.
func (ix *Indexer) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	n, err := ix.store.Delete(ctx, collection, ids)
	if err != nil {
		return 0, fmt.Errorf("pipeline: delete: %w", err)
	}
	return n, nil
}

// Count returns the number of documents in collection matching metadata.
func (ix *Indexer) Count(ctx context.Context, collection string, metadata map[string]string) (int, error) {
	n, err := ix.store.Count(ctx, vectorstore.Filter{Collection: collection, Metadata: metadata})
	if err != nil {
		return 0, fmt.Errorf("pipeline: count: %w", err)
	}
	return n, nil
}

// Ping checks the underlying store.
func (ix *Indexer) Ping(ctx context.Context) error { return ix.store.Ping(ctx) }

// ContentID derives a stable document ID from content.
func ContentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:12])
}

type span struct{ lo, hi int }

func chunk(n, size int) []span {
	if size <= 0 {
		size = n
	}
	out := make([]span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo, min(lo+size, n)})
	}
	return out
}
