package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"

	embedmock "github.com/MrWong99/embedkit/pkg/provider/embeddings/mock"
	"github.com/MrWong99/embedkit/pkg/vectorstore"
	storemock "github.com/MrWong99/embedkit/pkg/vectorstore/mock"
)

func TestInstrumentProvider_Success(t *testing.T) {
	m, reader, exp := testSetup(t)
	inner := &embedmock.Provider{ModelIDValue: "m2-bert", DimensionsValue: 4}
	p := InstrumentProvider("together", inner, m)

	vecs, err := p.Generate(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d, want 2", len(vecs))
	}
	if p.Dimensions() != 4 || p.ModelID() != "m2-bert" {
		t.Errorf("Dimensions/ModelID = %d/%q, want passthrough", p.Dimensions(), p.ModelID())
	}
	if p.Unwrap() != inner {
		t.Error("Unwrap did not return the inner provider")
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "embeddings.Generate" {
		t.Fatalf("spans = %v, want one embeddings.Generate span", spans)
	}

	rm := collect(t, reader)
	if v, ok := sumWhere(t, rm, "embedkit.embeddings.texts", "provider", "together"); !ok || v != 2 {
		t.Errorf("texts = %d (found=%v), want 2", v, ok)
	}
}

func TestInstrumentProvider_Error(t *testing.T) {
	m, reader, exp := testSetup(t)
	sentinel := errors.New("upstream down")
	p := InstrumentProvider("together", &embedmock.Provider{Err: sentinel}, m)

	if _, err := p.Embed(context.Background(), "a"); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status.Code)
	}

	rm := collect(t, reader)
	if v, ok := sumWhere(t, rm, "embedkit.embeddings.errors", "provider", "together"); !ok || v != 1 {
		t.Errorf("errors = %d (found=%v), want 1", v, ok)
	}
}

func TestInstrumentStore(t *testing.T) {
	m, reader, exp := testSetup(t)
	s := InstrumentStore(storemock.New(2), m)
	ctx := context.Background()

	if err := s.Upsert(ctx, []vectorstore.Document{{ID: "a", Collection: "c", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Query(ctx, []float32{1}, 1, vectorstore.Filter{}); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("Query err = %v, want ErrDimensionMismatch", err)
	}
	if n, err := s.Count(ctx, vectorstore.Filter{Collection: "c"}); err != nil || n != 1 {
		t.Fatalf("Count = (%d, %v), want (1, nil)", n, err)
	}

	if got := len(exp.GetSpans()); got != 3 {
		t.Errorf("spans = %d, want 3", got)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "embedkit.store.duration")
	if met == nil {
		t.Fatal("store duration not recorded")
	}
}
