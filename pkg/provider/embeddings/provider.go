// Package embeddings defines the contracts for vector embedding backends.
//
// An embeddings backend maps text strings to dense float32 vectors (e.g.,
// Together AI's m2-bert retrieval models, OpenAI text-embedding-3, or any
// OpenAI-compatible server). The vectors feed the vector store for semantic
// retrieval and similarity ranking.
//
// Two contracts are exposed:
//
//   - [Function] is the minimal "embedding function" used by pipelines: an
//     ordered list of texts in, one vector per text out.
//   - [Provider] is the richer backend abstraction that also reports the model
//     identity and vector dimensionality.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"fmt"
)

// Function maps an ordered list of texts to an ordered list of vectors.
//
// The returned slice has the same length as texts and the i-th element
// corresponds to texts[i]. A call either fully succeeds or returns an error
// with a nil slice; partial results are never returned.
type Function interface {
	Generate(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the same
// dimensionality (returned by Dimensions). Callers must not mix vectors from
// different Provider instances in the same similarity computation unless they have
// verified that both use the same model and space.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The text is
	// passed through verbatim; any model-specific prefixing is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings in a single
	// provider call. The returned slice has the same length as texts and the i-th
	// element corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is cancelled. On
	// error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by this
	// provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for embeddings
	// (e.g., "togethercomputer/m2-bert-80M-8k-retrieval").
	ModelID() string
}

// FunctionOf adapts p to the [Function] contract. When p already implements
// Function it is returned unchanged.
func FunctionOf(p Provider) Function {
	if fn, ok := p.(Function); ok {
		return fn
	}
	return batchFunction{p: p}
}

type batchFunction struct {
	p Provider
}

func (b batchFunction) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	return b.p.EmbedBatch(ctx, texts)
}

// Validate checks that vecs is aligned with texts: one non-empty vector per
// text, all of the same length.
func Validate(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("embeddings: expected %d vectors, got %d", len(texts), len(vecs))
	}
	dim := -1
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("embeddings: vector %d is empty", i)
		}
		if dim == -1 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return fmt.Errorf("embeddings: vector %d has %d dimensions, want %d", i, len(v), dim)
		}
	}
	return nil
}
