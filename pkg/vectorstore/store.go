// Package vectorstore defines the Store interface over a vector database
// holding embedded fables.
//
// A Store manages named collections. Each collection is fixed to a single
// embedding dimensionality and distance metric at creation time; every vector
// written to or searched against a collection must match its dimensionality
// exactly.
//
// Implementations must be safe for concurrent use. All operations hit the
// backing database directly — there is no read caching, so every search
// reflects the store's current state.
package vectorstore

import (
	"context"
	"errors"

	"github.com/MrWong99/fabled/pkg/fable"
)

// Metric selects the distance function used for similarity search within a
// collection.
type Metric string

const (
	// MetricCosine scores results by cosine similarity (1 - cosine distance).
	MetricCosine Metric = "cosine"

	// MetricDot scores results by (negated) inner-product distance.
	MetricDot Metric = "dot"

	// MetricL2 scores results by negated Euclidean distance, so that larger
	// is still more similar.
	MetricL2 Metric = "l2"
)

// IsValid reports whether m is a recognised metric.
func (m Metric) IsValid() bool {
	switch m {
	case MetricCosine, MetricDot, MetricL2:
		return true
	}
	return false
}

// Sentinel errors returned by Store implementations. Callers should test with
// [errors.Is]; implementations wrap these with operation detail.
var (
	// ErrCollectionNotFound is returned when an operation targets a collection
	// that has never been created. This is distinct from a search returning
	// zero results, which is a valid non-error outcome.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrSchemaMismatch is returned by EnsureCollection when the collection
	// already exists with a different dimensionality or metric.
	ErrSchemaMismatch = errors.New("collection schema mismatch")

	// ErrDimensionMismatch is returned when a vector's length does not match
	// the collection's configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned by GetByID when no record has the given ID.
	ErrNotFound = errors.New("fable not found")
)

// Record is a single upsert unit: a fable plus its embedding vector.
type Record struct {
	// Fable is the payload stored alongside the vector. Fable.ID is the
	// record key; upserting the same ID twice keeps only the latest payload.
	Fable fable.Fable

	// Embedding is the vector for Fable, with length equal to the
	// collection's dimensionality.
	Embedding []float32
}

// Store is the abstraction over the vector database.
type Store interface {
	// EnsureCollection creates the named collection with the given
	// dimensionality and metric if it does not exist. It is idempotent:
	// called again with identical parameters it is a no-op; called with
	// conflicting parameters it returns [ErrSchemaMismatch].
	EnsureCollection(ctx context.Context, name string, dimensions int, metric Metric) error

	// Upsert writes records into the collection, replacing any existing
	// record with the same fable ID (last write wins). Returns
	// [ErrDimensionMismatch] if any embedding's length differs from the
	// collection dimensionality, or [ErrCollectionNotFound] if the
	// collection does not exist. The check runs before any write, so a
	// failed batch leaves the collection unchanged.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search returns up to topK fables nearest to embedding, ordered
	// descending by score with ties broken by ascending fable ID. When
	// minScore is non-nil, results scoring below it are dropped. An empty
	// result slice is not an error; [ErrCollectionNotFound] is returned when
	// the collection itself is missing.
	Search(ctx context.Context, collection string, embedding []float32, topK int, minScore *float64) ([]fable.SearchResult, error)

	// GetByID fetches a single fable by ID, returning [ErrNotFound] when no
	// such record exists.
	GetByID(ctx context.Context, collection string, id int64) (fable.Fable, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int64, error)

	// Ping reports whether the backing database is reachable. Used by the
	// health endpoint.
	Ping(ctx context.Context) error
}
