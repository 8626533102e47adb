package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/provider/embeddings"
	"github.com/MrWong99/fabled/pkg/vectorstore"
)

// Seeder embeds a processed corpus and upserts it into a vector store
// collection. Re-running a seed is safe: upserts are last-write-wins per id.
type Seeder struct {
	embedder   embeddings.Provider
	store      vectorstore.Store
	batchSize  int
	concurrent int
	logger     *slog.Logger
}

// SeederOption configures a [Seeder].
type SeederOption func(*Seeder)

// WithBatchSize sets how many fables are embedded per backend call.
// The default is 32.
func WithBatchSize(n int) SeederOption {
	return func(s *Seeder) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency sets how many embedding batches are in flight at once.
// The default is 4.
func WithConcurrency(n int) SeederOption {
	return func(s *Seeder) {
		if n > 0 {
			s.concurrent = n
		}
	}
}

// WithLogger sets the logger used for progress reporting.
func WithLogger(l *slog.Logger) SeederOption {
	return func(s *Seeder) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSeeder creates a seeder over the given embeddings provider and store.
func NewSeeder(embedder embeddings.Provider, store vectorstore.Store, opts ...SeederOption) *Seeder {
	s := &Seeder{
		embedder:   embedder,
		store:      store,
		batchSize:  32,
		concurrent: 4,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedText returns the text embedded for a fable: title, content, and moral
// joined so that a query can match any of them. The same function must be
// used for every record in a collection.
func EmbedText(f fable.Fable) string {
	parts := make([]string, 0, 3)
	if f.Title != "" {
		parts = append(parts, f.Title)
	}
	if f.Content != "" {
		parts = append(parts, f.Content)
	}
	if f.Moral != "" {
		parts = append(parts, "Moral: "+f.Moral)
	}
	return strings.Join(parts, "\n")
}

// Seed embeds all fables and upserts them into collection, creating the
// collection first if needed. Returns the number of records written.
//
// Embedding batches run concurrently; the upsert happens only after every
// batch has succeeded, so a mid-seed embedding failure never leaves a
// partially written collection behind a freshly created one.
func (s *Seeder) Seed(ctx context.Context, collection string, fables []fable.Fable) (int, error) {
	if len(fables) == 0 {
		return 0, fmt.Errorf("corpus: seed %q: no fables to seed", collection)
	}

	start := time.Now()
	s.logger.Info("seeding collection",
		"collection", collection,
		"fables", len(fables),
		"model", s.embedder.ModelID(),
	)

	vectors := make([][]float32, len(fables))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrent)
	for begin := 0; begin < len(fables); begin += s.batchSize {
		end := min(begin+s.batchSize, len(fables))
		eg.Go(func() error {
			texts := make([]string, 0, end-begin)
			for _, f := range fables[begin:end] {
				texts = append(texts, EmbedText(f))
			}
			vecs, err := s.embedder.EmbedBatch(egCtx, texts)
			if err != nil {
				return fmt.Errorf("corpus: embed batch [%d:%d]: %w", begin, end, err)
			}
			copy(vectors[begin:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	// The embedder may only learn its dimensionality from the first real
	// call, so the collection is created after embedding.
	dims := len(vectors[0])
	if err := s.store.EnsureCollection(ctx, collection, dims, vectorstore.MetricCosine); err != nil {
		return 0, fmt.Errorf("corpus: ensure collection %q: %w", collection, err)
	}

	records := make([]vectorstore.Record, len(fables))
	for i, f := range fables {
		records[i] = vectorstore.Record{Fable: f, Embedding: vectors[i]}
	}
	if err := s.store.Upsert(ctx, collection, records); err != nil {
		return 0, fmt.Errorf("corpus: upsert into %q: %w", collection, err)
	}

	s.logger.Info("seed complete",
		"collection", collection,
		"records", len(records),
		"dimensions", dims,
		"took", time.Since(start),
	)
	return len(records), nil
}
