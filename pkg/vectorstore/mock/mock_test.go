package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/embedkit/pkg/vectorstore"
)

func TestStore_QueryOrdersByDistance(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	err := s.Upsert(ctx, []vectorstore.Document{
		{ID: "a", Collection: "c", Embedding: []float32{1, 0}},
		{ID: "b", Collection: "c", Embedding: []float32{0, 1}},
		{ID: "c", Collection: "c", Embedding: []float32{-1, 0}},
		{ID: "x", Collection: "other", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := s.Query(ctx, []float32{1, 0.1}, 2, vectorstore.Filter{Collection: "c"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 2 || res[0].Document.ID != "a" || res[1].Document.ID != "b" {
		t.Fatalf("results = %+v, want [a b]", res)
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := New(3)
	err := s.Upsert(context.Background(), []vectorstore.Document{{ID: "a", Embedding: []float32{1}}})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestStore_DeleteCountMetadata(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	_ = s.Upsert(ctx, []vectorstore.Document{
		{ID: "a", Collection: "c", Embedding: []float32{1}, Metadata: map[string]string{"lang": "en"}},
		{ID: "b", Collection: "c", Embedding: []float32{1}, Metadata: map[string]string{"lang": "de"}},
	})

	n, _ := s.Count(ctx, vectorstore.Filter{Metadata: map[string]string{"lang": "en"}})
	if n != 1 {
		t.Errorf("Count(lang=en) = %d, want 1", n)
	}
	deleted, _ := s.Delete(ctx, "c", []string{"a", "zzz"})
	if deleted != 1 {
		t.Errorf("Delete = %d, want 1", deleted)
	}
	n, _ = s.Count(ctx, vectorstore.Filter{Collection: "c"})
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 0},
		{[]float32{1, 0}, []float32{0, 1}, 1},
		{[]float32{1, 0}, []float32{-1, 0}, 2},
		{[]float32{1, 0}, []float32{1}, 2},
		{[]float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		if got := vectorstore.CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CosineDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
