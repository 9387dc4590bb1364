package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/embedkit/pkg/vectorstore"
	"github.com/MrWong99/embedkit/pkg/vectorstore/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if EMBEDKIT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EMBEDKIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EMBEDKIT_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS documents CASCADE"); err != nil {
		t.Fatalf("drop documents: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func seed(t *testing.T, store *postgres.Store) {
	t.Helper()
	docs := []vectorstore.Document{
		{ID: "north", Collection: "compass", Content: "north", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]string{"axis": "y"}},
		{ID: "east", Collection: "compass", Content: "east", Embedding: []float32{0, 1, 0, 0}, Metadata: map[string]string{"axis": "x"}},
		{ID: "south", Collection: "compass", Content: "south", Embedding: []float32{-1, 0, 0, 0}, Metadata: map[string]string{"axis": "y"}},
		{ID: "north", Collection: "other", Content: "other north", Embedding: []float32{1, 0, 0, 0}},
	}
	if err := store.Upsert(context.Background(), docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestUpsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	results, err := store.Query(ctx, []float32{0.9, 0.1, 0, 0}, 2, vectorstore.Filter{Collection: "compass"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Document.ID != "north" || results[1].Document.ID != "east" {
		t.Errorf("order = [%s %s], want [north east]", results[0].Document.ID, results[1].Document.ID)
	}
	if results[0].Distance > results[1].Distance {
		t.Error("results not ordered by ascending distance")
	}
	if len(results[0].Document.Embedding) != testEmbeddingDim {
		t.Errorf("embedding dim = %d, want %d", len(results[0].Document.Embedding), testEmbeddingDim)
	}
	if results[0].Document.Metadata["axis"] != "y" {
		t.Errorf("metadata = %v, want axis=y", results[0].Document.Metadata)
	}
}

func TestQuery_MetadataFilter(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	results, err := store.Query(context.Background(), []float32{0, 1, 0, 0}, 10, vectorstore.Filter{
		Collection: "compass",
		Metadata:   map[string]string{"axis": "y"},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Document.Metadata["axis"] != "y" {
			t.Errorf("unexpected document %q with metadata %v", r.Document.ID, r.Document.Metadata)
		}
	}
}

func TestUpsert_Replaces(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	err := store.Upsert(ctx, []vectorstore.Document{
		{ID: "north", Collection: "compass", Content: "true north", Embedding: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	n, err := store.Count(ctx, vectorstore.Filter{Collection: "compass"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	results, err := store.Query(ctx, []float32{1, 0, 0, 0}, 1, vectorstore.Filter{Collection: "compass"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if results[0].Document.Content != "true north" {
		t.Errorf("content = %q, want replaced content", results[0].Document.Content)
	}
}

func TestDeleteAndCount(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	n, err := store.Delete(ctx, "compass", []string{"north", "missing"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	total, err := store.Count(ctx, vectorstore.Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 3 {
		t.Errorf("Count = %d, want 3", total)
	}
}

func TestDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []vectorstore.Document{{ID: "bad", Collection: "c", Embedding: []float32{1, 2}}})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Upsert err = %v, want ErrDimensionMismatch", err)
	}
	_, err = store.Query(ctx, []float32{1}, 1, vectorstore.Filter{})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Query err = %v, want ErrDimensionMismatch", err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
