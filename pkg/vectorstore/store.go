// Package vectorstore defines the storage contract for embedded documents.
//
// A [Store] persists documents together with their pre-computed embeddings
// and answers nearest-neighbour queries by cosine distance. Embedding is not
// the store's concern: callers supply vectors produced by an
// embeddings.Function.
//
// Every implementation must be safe for concurrent use.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// store's configured dimension.
var ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")

// Document is a unit of content with its embedding.
type Document struct {
	// ID uniquely identifies the document within its collection.
	ID string `json:"id"`

	// Collection groups documents; queries are scoped to one collection.
	Collection string `json:"collection"`

	// Content is the text that was embedded.
	Content string `json:"content"`

	// Embedding is the vector representation of Content.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata holds arbitrary string attributes usable as query filters.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is set by the store on first insert when zero.
	CreatedAt time.Time `json:"created_at"`
}

// Result is a document returned by [Store.Query] with its cosine distance to
// the query vector (0 = identical direction, 2 = opposite).
type Result struct {
	Document Document `json:"document"`
	Distance float64  `json:"distance"`
}

// Filter narrows a query or count. Zero fields are ignored.
type Filter struct {
	// Collection restricts results to one collection.
	Collection string

	// Metadata requires every listed key to have exactly the given value.
	Metadata map[string]string
}

// Store is the persistence contract for embedded documents.
type Store interface {
	// Upsert inserts docs, replacing any existing document with the same
	// (Collection, ID).
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to topK documents closest to embedding, ordered by
	// ascending cosine distance.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Result, error)

	// Delete removes the documents with the given IDs from collection.
	// Missing IDs are ignored. It returns the number of documents removed.
	Delete(ctx context.Context, collection string, ids []string) (int, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// CosineDistance returns 1 - cos(a, b). Vectors of different length or zero
// magnitude yield the maximum distance of 2.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// MatchesMetadata reports whether md contains every key/value in want.
func MatchesMetadata(md, want map[string]string) bool {
	for k, v := range want {
		if got, ok := md[k]; !ok || got != v {
			return false
		}
	}
	return true
}
