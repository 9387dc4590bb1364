// Package mock provides an in-memory vectorstore.Store for tests and for
// running without a database.
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/embedkit/pkg/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

type key struct {
	collection string
	id         string
}

// Store is an in-memory implementation of vectorstore.Store using exact
// cosine-distance search. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[key]vectorstore.Document

	// Dimensions, when non-zero, is enforced on every upserted and query vector.
	Dimensions int

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// UpsertErr, if non-nil, is returned by Upsert.
	UpsertErr error
}

// New returns an empty Store that enforces dims when dims > 0.
func New(dims int) *Store {
	return &Store{docs: make(map[key]vectorstore.Document), Dimensions: dims}
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(_ context.Context, docs []vectorstore.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if s.docs == nil {
		s.docs = make(map[key]vectorstore.Document)
	}
	for _, d := range docs {
		if err := s.checkDims(d.Embedding); err != nil {
			return fmt.Errorf("mock store: upsert %q: %w", d.ID, err)
		}
	}
	now := time.Now()
	for _, d := range docs {
		k := key{d.Collection, d.ID}
		if d.CreatedAt.IsZero() {
			if prev, ok := s.docs[k]; ok {
				d.CreatedAt = prev.CreatedAt
			} else {
				d.CreatedAt = now
			}
		}
		d.Embedding = slices.Clone(d.Embedding)
		d.Metadata = maps.Clone(d.Metadata)
		s.docs[k] = d
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(_ context.Context, embedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	if err := s.checkDims(embedding); err != nil {
		return nil, fmt.Errorf("mock store: query: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []vectorstore.Result{}
	for _, d := range s.docs {
		if !matches(d, filter) {
			continue
		}
		results = append(results, vectorstore.Result{
			Document: d,
			Distance: vectorstore.CosineDistance(embedding, d.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(_ context.Context, collection string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		k := key{collection, id}
		if _, ok := s.docs[k]; ok {
			delete(s.docs, k)
			n++
		}
	}
	return n, nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(_ context.Context, filter vectorstore.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.docs {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

// Ping implements vectorstore.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PingErr
}

func (s *Store) checkDims(vec []float32) error {
	if s.Dimensions > 0 && len(vec) != s.Dimensions {
		return fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, len(vec), s.Dimensions)
	}
	return nil
}

func matches(d vectorstore.Document, f vectorstore.Filter) bool {
	if f.Collection != "" && d.Collection != f.Collection {
		return false
	}
	return vectorstore.MatchesMetadata(d.Metadata, f.Metadata)
}
