package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/vectorstore"
	"github.com/MrWong99/fabled/pkg/vectorstore/postgres"
)

const testDims = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if FABLED_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FABLED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FABLED_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store against the test database and ensures a fresh
// collection named name exists for this test.
func newTestStore(t *testing.T, name string) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	store, err := postgres.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.EnsureCollection(ctx, name, testDims, vectorstore.MetricCosine); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	return store
}

func vec(vals ...float32) []float32 { return vals }

func record(id int64, title string, embedding []float32) vectorstore.Record {
	return vectorstore.Record{
		Fable: fable.Fable{
			ID:        id,
			Title:     title,
			Content:   "content of " + title,
			Moral:     "moral of " + title,
			Language:  "en",
			WordCount: 3,
		},
		Embedding: embedding,
	}
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	store := newTestStore(t, "tc_idempotent")
	ctx := context.Background()

	if err := store.EnsureCollection(ctx, "tc_idempotent", testDims, vectorstore.MetricCosine); err != nil {
		t.Fatalf("second EnsureCollection with identical parameters: %v", err)
	}
}

func TestEnsureCollection_SchemaMismatch(t *testing.T) {
	store := newTestStore(t, "tc_mismatch")
	ctx := context.Background()

	err := store.EnsureCollection(ctx, "tc_mismatch", testDims+1, vectorstore.MetricCosine)
	if !errors.Is(err, vectorstore.ErrSchemaMismatch) {
		t.Fatalf("different dimensions: got %v, want ErrSchemaMismatch", err)
	}

	err = store.EnsureCollection(ctx, "tc_mismatch", testDims, vectorstore.MetricL2)
	if !errors.Is(err, vectorstore.ErrSchemaMismatch) {
		t.Fatalf("different metric: got %v, want ErrSchemaMismatch", err)
	}
}

func TestUpsert_LastWriteWins(t *testing.T) {
	store := newTestStore(t, "tc_upsert")
	ctx := context.Background()

	if err := store.Upsert(ctx, "tc_upsert", []vectorstore.Record{
		record(1, "first title", vec(1, 0, 0, 0)),
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.Upsert(ctx, "tc_upsert", []vectorstore.Record{
		record(1, "second title", vec(0, 1, 0, 0)),
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := store.Count(ctx, "tc_upsert")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after double upsert of one id: got %d, want 1", n)
	}

	f, err := store.GetByID(ctx, "tc_upsert", 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if f.Title != "second title" {
		t.Errorf("Title after re-upsert: got %q, want %q", f.Title, "second title")
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	store := newTestStore(t, "tc_dims")
	ctx := context.Background()

	err := store.Upsert(ctx, "tc_dims", []vectorstore.Record{
		record(1, "ok", vec(1, 0, 0, 0)),
		record(2, "bad", vec(1, 0)),
	})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}

	// The batch is validated up front; nothing may have been written.
	n, err := store.Count(ctx, "tc_dims")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count after failed batch: got %d, want 0", n)
	}
}

func TestSearch_OrderingAndThreshold(t *testing.T) {
	store := newTestStore(t, "tc_search")
	ctx := context.Background()

	if err := store.Upsert(ctx, "tc_search", []vectorstore.Record{
		record(1, "aligned", vec(1, 0, 0, 0)),
		record(2, "close", vec(0.9, 0.1, 0, 0)),
		record(3, "orthogonal", vec(0, 0, 1, 0)),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := store.Search(ctx, "tc_search", vec(1, 0, 0, 0), 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results): got %d, want 3", len(results))
	}
	if results[0].Fable.ID != 1 {
		t.Errorf("top result: got id %d, want 1", results[0].Fable.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not descending at index %d", i)
		}
	}

	// Threshold drops the orthogonal vector (cosine similarity 0).
	minScore := 0.5
	results, err = store.Search(ctx, "tc_search", vec(1, 0, 0, 0), 10, &minScore)
	if err != nil {
		t.Fatalf("Search with minScore: %v", err)
	}
	for _, r := range results {
		if r.Score < minScore {
			t.Errorf("result %d has score %f below threshold %f", r.Fable.ID, r.Score, minScore)
		}
	}

	// topK caps the result count.
	results, err = store.Search(ctx, "tc_search", vec(1, 0, 0, 0), 1, nil)
	if err != nil {
		t.Fatalf("Search with topK=1: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) with topK=1: got %d, want 1", len(results))
	}
}

func TestSearch_CollectionNotFound(t *testing.T) {
	store := newTestStore(t, "tc_exists")
	ctx := context.Background()

	_, err := store.Search(ctx, "tc_never_created", vec(1, 0, 0, 0), 5, nil)
	if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		t.Fatalf("got %v, want ErrCollectionNotFound", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	store := newTestStore(t, "tc_get")
	ctx := context.Background()

	_, err := store.GetByID(ctx, "tc_get", 999999)
	if !errors.Is(err, vectorstore.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
