// Package rag composes the embeddings provider, vector store, and generation
// providers into the two request-time pipelines: search and generate.
package rag

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the orchestrator. Handlers translate these into
// HTTP status codes; everything else is an internal error.
var (
	// ErrInvalidInput marks a request that fails validation before any
	// backend work happens: blank query, non-positive limit, out-of-range
	// threshold.
	ErrInvalidInput = errors.New("rag: invalid input")

	// ErrProviderUnavailable marks a generation request naming a provider
	// that is not enabled, not wired, or whose backend is unreachable. There
	// is no fallback to another provider.
	ErrProviderUnavailable = errors.New("rag: provider unavailable")

	// ErrNoContext marks a generation request whose retrieval phase returned
	// zero fables while the empty-context policy is "fail".
	ErrNoContext = errors.New("rag: no relevant fables found")

	// ErrGenerationTimeout marks a generation call that exceeded its
	// wall-clock budget. Distinct from [GenerationError] so callers can tell
	// "backend too slow" from "backend broken".
	ErrGenerationTimeout = errors.New("rag: generation timed out")
)

// GenerationError reports a generation backend failure: process exit,
// network error, or unusable output. The retrieval phase has already
// succeeded by the time this is returned.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("rag: generation via %q failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
