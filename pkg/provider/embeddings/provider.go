// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to a dense float32 vector (e.g., OpenAI
// text-embedding-3 or a local nomic-embed-text served by Ollama). minutas
// embeds each meeting's executive summary when it is stored so that later
// questions can recall related meetings by similarity.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned by [Check] when a vector's length does not
// match the store column it is destined for.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider share the same dimensionality
// (returned by Dimensions). Vectors from different models must never be mixed
// in the same similarity query.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or ctx
	// is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by
	// this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small").
	ModelID() string
}

// Check verifies that vec has exactly dims components.
func Check(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dims)
	}
	return nil
}
