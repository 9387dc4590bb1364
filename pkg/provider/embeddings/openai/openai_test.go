package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// embeddingsServer answers /v1/embeddings with the given data entries.
func embeddingsServer(t *testing.T, data []map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q, want /v1/embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestModelDimensions verifies the built-in dimension table.
func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"togethercomputer/m2-bert-80M-8k-retrieval", 768},
		{"BAAI/bge-large-en-v1.5", 1024},
	}
	for _, tt := range tests {
		if got := modelDimensions(tt.model); got != tt.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
	if d := modelDimensions("some-future-model"); d != 0 {
		t.Errorf("unknown model: dimensions = %d, want 0", d)
	}
}

// TestNew_DefaultModel verifies that no model option defaults to text-embedding-3-small.
func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
}

// TestNew_MissingAPIKey checks that an empty API key is rejected.
func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_UnknownModelReportsZero verifies that a model outside the table
// does not pretend to a width it may not have.
func TestNew_UnknownModelReportsZero(t *testing.T) {
	p, err := New("sk-test", WithModel("nomic-embed-text"), WithBaseURL("http://localhost:11434/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Dimensions() != 0 {
		t.Errorf("Dimensions() = %d, want 0", p.Dimensions())
	}
}

// TestNew_WithDimensions verifies the explicit dimension overrides the table.
func TestNew_WithDimensions(t *testing.T) {
	p, err := New("sk-test", WithModel("custom"), WithDimensions(42))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Dimensions() != 42 {
		t.Errorf("Dimensions() = %d, want 42", p.Dimensions())
	}
}

// TestGenerate_OrdersByIndex verifies out-of-order data is placed by index.
func TestGenerate_OrdersByIndex(t *testing.T) {
	srv := embeddingsServer(t, []map[string]any{
		{"object": "embedding", "index": 1, "embedding": []float64{0.3, 0.4}},
		{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2}},
	})
	p, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Generate(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got[0][0] != float32(0.1) || got[1][0] != float32(0.3) {
		t.Errorf("Generate = %v, want vectors ordered by index", got)
	}
}

// TestGenerate_CountMismatch verifies that a short response is rejected.
func TestGenerate_CountMismatch(t *testing.T) {
	srv := embeddingsServer(t, []map[string]any{
		{"object": "embedding", "index": 0, "embedding": []float64{0.1}},
	})
	p, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Generate(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for count mismatch")
	}
}

// TestGenerate_Empty verifies no request is made for an empty input.
func TestGenerate_Empty(t *testing.T) {
	p, err := New("sk-test", WithBaseURL("http://127.0.0.1:1/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Generate(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("Generate(nil) = %v, %v; want nil, nil", got, err)
	}
}

// TestFloat64ToFloat32 verifies the conversion helper.
func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("expected %d elements, got %d", len(in), len(out))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: expected %v, got %v", i, float32(in[i]), v)
		}
	}
}
