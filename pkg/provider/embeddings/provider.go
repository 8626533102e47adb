// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. Fabled uses the
// same provider for both sides of retrieval: fable contents are embedded at
// seed time and queries are embedded at request time, so both must go through
// one Provider instance (or two instances of the same model) for scores to be
// meaningful.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned by Embed and EmbedBatch when an input text is
// empty after trimming whitespace. There is nothing useful to embed, and
// sending it to the backend would yield an arbitrary vector, so the call is
// rejected before any network traffic.
var ErrEmptyInput = errors.New("text is empty")

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same length
// (returned by Dimensions). A vector store collection created for one
// provider must never be queried with vectors from a different model.
type Provider interface {
	// Embed computes the embedding vector for a single text. Returns a
	// float32 slice of length Dimensions(), [ErrEmptyInput] if text is blank,
	// or an error if the request fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// backend call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. On error the entire result is
	// nil — partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the backend-specific model identifier, used for
	// logging and for verifying that a collection was built with the same
	// model it is queried with.
	ModelID() string
}
