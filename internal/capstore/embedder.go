package capstore

import "context"

// Embedder computes the opaque embedding function named in spec.md §1 ("the
// embedding model ... an opaque function embed(text) -> vector[1024]"). The
// Capability Store only depends on this narrow interface; concrete
// providers live in internal/embedclient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
