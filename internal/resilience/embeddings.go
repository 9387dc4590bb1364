package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
)

// EmbeddingsFailover is an [embeddings.Provider] that fails over from a
// primary backend to fallbacks. Every member must produce vectors of the same
// width, since their output lands in the same index.
type EmbeddingsFailover struct {
	group *Group[embeddings.Provider]
	dims  int
}

var (
	_ embeddings.Provider = (*EmbeddingsFailover)(nil)
	_ embeddings.Function = (*EmbeddingsFailover)(nil)
)

// NewEmbeddingsFailover creates a failover provider with primary as the
// preferred backend.
func NewEmbeddingsFailover(primaryName string, primary embeddings.Provider, cfg BreakerConfig) *EmbeddingsFailover {
	return &EmbeddingsFailover{
		group: NewGroup(primaryName, primary, cfg),
		dims:  primary.Dimensions(),
	}
}

// AddFallback registers p. It fails when both p and the members added so far
// report a known dimension and the two differ.
func (f *EmbeddingsFailover) AddFallback(name string, p embeddings.Provider) error {
	if d := p.Dimensions(); d > 0 {
		if f.dims > 0 && d != f.dims {
			return fmt.Errorf("resilience: fallback %q produces %d dimensions, primary produces %d", name, d, f.dims)
		}
		f.dims = d
	}
	f.group.Add(name, p)
	return nil
}

// States reports the breaker state of every backend.
func (f *EmbeddingsFailover) States() []MemberState { return f.group.States() }

// Generate implements [embeddings.Function].
func (f *EmbeddingsFailover) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return Do(ctx, f.group, func(ctx context.Context, p embeddings.Provider) ([][]float32, error) {
		vecs, err := embeddings.FunctionOf(p).Generate(ctx, texts)
		if err != nil {
			return nil, err
		}
		// A misaligned answer is a backend fault like any other.
		if err := embeddings.Validate(texts, vecs); err != nil {
			return nil, err
		}
		return vecs, nil
	})
}

// EmbedBatch implements [embeddings.Provider].
func (f *EmbeddingsFailover) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return f.Generate(ctx, texts)
}

// Embed implements [embeddings.Provider].
func (f *EmbeddingsFailover) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Generate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions implements [embeddings.Provider]. It is the width shared by all
// members, or the primary's own answer when none was known up front.
func (f *EmbeddingsFailover) Dimensions() int {
	if f.dims > 0 {
		return f.dims
	}
	return f.group.Primary().Dimensions()
}

// ModelID implements [embeddings.Provider] and reports the primary's model.
func (f *EmbeddingsFailover) ModelID() string { return f.group.Primary().ModelID() }

// Check fails when every backend's breaker is open, meaning no embedding call
// can currently be attempted. It matches the health checker signature.
func (f *EmbeddingsFailover) Check(context.Context) error {
	states := f.group.States()
	for _, s := range states {
		if s.State != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("resilience: all %d embeddings backends have open circuits", len(states))
}
