// Package mock provides a test double for the vectorstore.Store interface.
//
// Use Store in unit tests to feed controlled search results and to verify
// which calls the orchestrator makes, without a live database.
// Zero values for response fields cause methods to return zero values and nil
// errors; set Err fields to inject failures.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/vectorstore"
)

// Compile-time interface check.
var _ vectorstore.Store = (*Store)(nil)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	Collection string
	Embedding  []float32
	TopK       int
	MinScore   *float64
}

// UpsertCall records a single invocation of Upsert.
type UpsertCall struct {
	Collection string
	Records    []vectorstore.Record
}

// Store is a mock implementation of vectorstore.Store.
type Store struct {
	mu sync.Mutex

	// SearchResults is returned by Search when SearchErr is nil.
	SearchResults []fable.SearchResult

	// Fables is the lookup table for GetByID, keyed by fable ID.
	Fables map[int64]fable.Fable

	// Total is returned by Count.
	Total int64

	// Error injection per method.
	EnsureErr error
	UpsertErr error
	SearchErr error
	GetErr    error
	CountErr  error
	PingErr   error

	// Recorded calls.
	SearchCalls []SearchCall
	UpsertCalls []UpsertCall
	EnsureCalls int
	PingCalls   int
}

// EnsureCollection implements vectorstore.Store.
func (s *Store) EnsureCollection(_ context.Context, _ string, _ int, _ vectorstore.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EnsureCalls++
	return s.EnsureErr
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(_ context.Context, collection string, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls = append(s.UpsertCalls, UpsertCall{Collection: collection, Records: records})
	return s.UpsertErr
}

// Search implements vectorstore.Store. It records the call and returns
// SearchResults, honouring TopK and MinScore the way a real store would so
// orchestrator tests exercise realistic result shapes.
func (s *Store) Search(_ context.Context, collection string, embedding []float32, topK int, minScore *float64) ([]fable.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, SearchCall{
		Collection: collection,
		Embedding:  embedding,
		TopK:       topK,
		MinScore:   minScore,
	})
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	out := []fable.SearchResult{}
	for _, r := range s.SearchResults {
		if minScore != nil && r.Score < *minScore {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// GetByID implements vectorstore.Store.
func (s *Store) GetByID(_ context.Context, collection string, id int64) (fable.Fable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return fable.Fable{}, s.GetErr
	}
	f, ok := s.Fables[id]
	if !ok {
		return fable.Fable{}, fmt.Errorf("mock: get %q/%d: %w", collection, id, vectorstore.ErrNotFound)
	}
	return f, nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Total, s.CountErr
}

// Ping implements vectorstore.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingCalls++
	return s.PingErr
}
