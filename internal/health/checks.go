package health

import (
	"context"
	"errors"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
	"github.com/MrWong99/embedkit/pkg/vectorstore"
)

// StoreChecker reports whether the vector store answers a ping.
func StoreChecker(s vectorstore.Store) Checker {
	return Checker{Name: "store", Check: s.Ping}
}

// EmbeddingsChecker reports whether p knows its vector dimensionality.
// For providers that discover it with a probe call, checks pay for that call
// until one succeeds; later checks use the cached value.
func EmbeddingsChecker(p embeddings.Provider) Checker {
	return Checker{
		Name: "embeddings",
		Check: func(ctx context.Context) error {
			done := make(chan int, 1)
			go func() { done <- p.Dimensions() }()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case dims := <-done:
				if dims <= 0 {
					return errors.New("embedding dimensions unknown for model " + p.ModelID())
				}
				return nil
			}
		},
	}
}
