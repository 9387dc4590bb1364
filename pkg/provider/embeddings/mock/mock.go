// Package mock provides a test double for the embeddings contracts.
//
// Provider satisfies both embeddings.Provider and embeddings.Function. By
// default it returns deterministic vectors derived from each text (see
// [HashVector]), so pipelines can be exercised end to end without a live
// model.
//
// Example:
//
//	p := &mock.Provider{DimensionsValue: 8, ModelIDValue: "test-embed-v1"}
//	vecs, _ := p.Generate(ctx, []string{"hello", "world"})
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
)

// defaultDimensions is used when DimensionsValue is zero.
const defaultDimensions = 8

// Call records a single invocation of Generate, Embed, or EmbedBatch.
type Call struct {
	// Method is "Generate", "Embed", or "EmbedBatch".
	Method string
	// Ctx is the context passed to the call.
	Ctx context.Context
	// Texts is a copy of the texts passed (a single element for Embed).
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider and
// embeddings.Function.
type Provider struct {
	mu sync.Mutex

	// Result, if non-nil, is returned by Generate and EmbedBatch instead of
	// hash vectors. Embed returns its first element.
	Result [][]float32

	// Err, if non-nil, is returned by every embedding call.
	Err error

	// DimensionsValue is returned by Dimensions and sizes hash vectors.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// Calls records every embedding call in order.
	Calls []Call
}

var (
	_ embeddings.Provider = (*Provider)(nil)
	_ embeddings.Function = (*Provider)(nil)
)

// Generate records the call and returns Result, hash vectors, or Err.
func (p *Provider) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	return p.record(ctx, "Generate", texts)
}

// EmbedBatch behaves like Generate.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.record(ctx, "EmbedBatch", texts)
}

// Embed records the call and returns the vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.record(ctx, "Embed", []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}

// Dimensions returns DimensionsValue, or the default hash vector size.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

func (p *Provider) record(ctx context.Context, method string, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.Calls = append(p.Calls, Call{Method: method, Ctx: ctx, Texts: cp})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = HashVector(t, p.dims())
	}
	return out, nil
}

func (p *Provider) dims() int {
	if p.DimensionsValue > 0 {
		return p.DimensionsValue
	}
	return defaultDimensions
}

// HashVector returns a deterministic unit-length vector of the given size
// derived from text. Equal texts always map to equal vectors.
func HashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	h := fnv.New64a()
	var norm float64
	for i := range vec {
		h.Reset()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(text))
		v := float64(h.Sum64()%2000)/1000 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
