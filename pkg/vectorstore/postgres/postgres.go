// Package postgres provides a PostgreSQL + pgvector implementation of
// [vectorstore.Store].
//
// Each collection is a dedicated table named "fables_<collection>" with a
// vector column sized at creation time and an HNSW index matching the
// collection's distance metric. A registry table ("vs_collections") records
// every collection's dimensionality and metric so that EnsureCollection can
// detect schema conflicts.
//
// The pgvector extension must be available in the target database; it is
// installed automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	if err := store.EnsureCollection(ctx, "fables", 768, vectorstore.MetricCosine); err != nil { … }
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/vectorstore"
)

// Compile-time interface check.
var _ vectorstore.Store = (*Store)(nil)

// collectionNameRe restricts collection names to identifier-safe strings so
// they can be embedded in table names without quoting.
var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,50}$`)

// pgUndefinedTable is the PostgreSQL error code for "relation does not exist".
const pgUndefinedTable = "42P01"

// Store implements [vectorstore.Store] on top of a pgxpool connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn, registers pgvector types on
// every connection, and ensures the collection registry table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}

	const registry = `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS vs_collections (
		    name        TEXT         PRIMARY KEY,
		    dimensions  INT          NOT NULL,
		    metric      TEXT         NOT NULL,
		    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
		);`
	if _, err := pool.Exec(ctx, registry); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: create registry: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [vectorstore.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("vectorstore: ping: %w", err)
	}
	return nil
}

// EnsureCollection implements [vectorstore.Store]. It is idempotent and safe
// to call on every application start.
func (s *Store) EnsureCollection(ctx context.Context, name string, dimensions int, metric vectorstore.Metric) error {
	if err := validateName(name); err != nil {
		return err
	}
	if dimensions <= 0 {
		return fmt.Errorf("vectorstore: ensure collection %q: dimensions must be positive, got %d", name, dimensions)
	}
	if !metric.IsValid() {
		return fmt.Errorf("vectorstore: ensure collection %q: unknown metric %q", name, metric)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: ensure collection %q: begin: %w", name, err)
	}
	defer tx.Rollback(ctx)

	var (
		haveDims   int
		haveMetric string
	)
	err = tx.QueryRow(ctx,
		`SELECT dimensions, metric FROM vs_collections WHERE name = $1 FOR UPDATE`, name,
	).Scan(&haveDims, &haveMetric)
	switch {
	case err == nil:
		if haveDims != dimensions || haveMetric != string(metric) {
			return fmt.Errorf("vectorstore: collection %q exists with dimensions=%d metric=%s, requested dimensions=%d metric=%s: %w",
				name, haveDims, haveMetric, dimensions, metric, vectorstore.ErrSchemaMismatch)
		}
		return tx.Commit(ctx)
	case errors.Is(err, pgx.ErrNoRows):
		// Fall through to creation.
	default:
		return fmt.Errorf("vectorstore: ensure collection %q: lookup: %w", name, err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    id          BIGINT       PRIMARY KEY,
		    title       TEXT         NOT NULL,
		    content     TEXT         NOT NULL,
		    moral       TEXT         NOT NULL DEFAULT '',
		    language    TEXT         NOT NULL DEFAULT '',
		    word_count  INT          NOT NULL DEFAULT 0,
		    embedding   vector(%d)   NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%s_embedding
		    ON %s USING hnsw (embedding %s);`,
		tableName(name), dimensions, tableName(name), tableName(name), indexOps(metric))

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: ensure collection %q: create table: %w", name, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO vs_collections (name, dimensions, metric) VALUES ($1, $2, $3)`,
		name, dimensions, string(metric),
	); err != nil {
		return fmt.Errorf("vectorstore: ensure collection %q: register: %w", name, err)
	}
	return tx.Commit(ctx)
}

// Upsert implements [vectorstore.Store]. All embeddings are validated against
// the collection dimensionality before any row is written; on validation
// failure the collection is left untouched.
func (s *Store) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	if err := validateName(collection); err != nil {
		return err
	}
	dims, _, err := s.lookupCollection(ctx, collection)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Embedding) != dims {
			return fmt.Errorf("vectorstore: upsert into %q: fable %d has embedding length %d, collection expects %d: %w",
				collection, r.Fable.ID, len(r.Embedding), dims, vectorstore.ErrDimensionMismatch)
		}
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, title, content, moral, language, word_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    title      = EXCLUDED.title,
		    content    = EXCLUDED.content,
		    moral      = EXCLUDED.moral,
		    language   = EXCLUDED.language,
		    word_count = EXCLUDED.word_count,
		    embedding  = EXCLUDED.embedding`, tableName(collection))

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(q,
			r.Fable.ID,
			r.Fable.Title,
			r.Fable.Content,
			r.Fable.Moral,
			r.Fable.Language,
			r.Fable.WordCount,
			pgvector.NewVector(r.Embedding),
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("vectorstore: upsert into %q: %w", collection, asStoreErr(err))
	}
	return nil
}

// Search implements [vectorstore.Store]. The similarity score is derived from
// the collection's metric (e.g., 1 - cosine distance for cosine collections);
// ordering is descending by score with ascending-ID tie-break so identical
// queries over identical data always return the same ordering.
func (s *Store) Search(ctx context.Context, collection string, embedding []float32, topK int, minScore *float64) ([]fable.SearchResult, error) {
	if err := validateName(collection); err != nil {
		return nil, err
	}
	dims, metric, err := s.lookupCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(embedding) != dims {
		return nil, fmt.Errorf("vectorstore: search %q: query embedding length %d, collection expects %d: %w",
			collection, len(embedding), dims, vectorstore.ErrDimensionMismatch)
	}

	args := []any{pgvector.NewVector(embedding), topK}
	scoreFilter := ""
	if minScore != nil {
		args = append(args, *minScore)
		scoreFilter = "WHERE score >= $3"
	}

	q := fmt.Sprintf(`
		SELECT id, title, content, moral, language, word_count, score
		FROM (
		    SELECT id, title, content, moral, language, word_count,
		           %s AS score
		    FROM   %s
		) ranked
		%s
		ORDER  BY score DESC, id ASC
		LIMIT  $2`, scoreExpr(metric), tableName(collection), scoreFilter)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %q: %w", collection, asStoreErr(err))
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (fable.SearchResult, error) {
		var sr fable.SearchResult
		err := row.Scan(
			&sr.Fable.ID,
			&sr.Fable.Title,
			&sr.Fable.Content,
			&sr.Fable.Moral,
			&sr.Fable.Language,
			&sr.Fable.WordCount,
			&sr.Score,
		)
		return sr, err
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %q: scan rows: %w", collection, err)
	}
	if results == nil {
		results = []fable.SearchResult{}
	}
	return results, nil
}

// GetByID implements [vectorstore.Store].
func (s *Store) GetByID(ctx context.Context, collection string, id int64) (fable.Fable, error) {
	if err := validateName(collection); err != nil {
		return fable.Fable{}, err
	}

	q := fmt.Sprintf(`
		SELECT id, title, content, moral, language, word_count
		FROM   %s
		WHERE  id = $1`, tableName(collection))

	var f fable.Fable
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&f.ID, &f.Title, &f.Content, &f.Moral, &f.Language, &f.WordCount,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fable.Fable{}, fmt.Errorf("vectorstore: get %q/%d: %w", collection, id, vectorstore.ErrNotFound)
	case err != nil:
		return fable.Fable{}, fmt.Errorf("vectorstore: get %q/%d: %w", collection, id, asStoreErr(err))
	}
	return f, nil
}

// Count implements [vectorstore.Store].
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	if err := validateName(collection); err != nil {
		return 0, err
	}
	var n int64
	q := fmt.Sprintf(`SELECT count(*) FROM %s`, tableName(collection))
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorstore: count %q: %w", collection, asStoreErr(err))
	}
	return n, nil
}

// lookupCollection fetches the registered dimensionality and metric for a
// collection, translating a missing registry row into ErrCollectionNotFound.
func (s *Store) lookupCollection(ctx context.Context, name string) (int, vectorstore.Metric, error) {
	var (
		dims   int
		metric string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT dimensions, metric FROM vs_collections WHERE name = $1`, name,
	).Scan(&dims, &metric)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, "", fmt.Errorf("vectorstore: collection %q: %w", name, vectorstore.ErrCollectionNotFound)
	case err != nil:
		return 0, "", fmt.Errorf("vectorstore: collection %q: lookup: %w", name, err)
	}
	return dims, vectorstore.Metric(metric), nil
}

// validateName rejects collection names that cannot be safely embedded in a
// table identifier.
func validateName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("vectorstore: invalid collection name %q (want lowercase letters, digits, underscores)", name)
	}
	return nil
}

// tableName returns the table backing a collection.
func tableName(collection string) string {
	return "fables_" + collection
}

// indexOps returns the pgvector HNSW operator class for a metric.
func indexOps(m vectorstore.Metric) string {
	switch m {
	case vectorstore.MetricDot:
		return "vector_ip_ops"
	case vectorstore.MetricL2:
		return "vector_l2_ops"
	default:
		return "vector_cosine_ops"
	}
}

// scoreExpr returns the SQL expression converting the metric's distance
// operator into a descending-sortable similarity score. $1 is the query vector.
func scoreExpr(m vectorstore.Metric) string {
	switch m {
	case vectorstore.MetricDot:
		// <#> returns the negated inner product; negate back to similarity.
		return "-(embedding <#> $1)"
	case vectorstore.MetricL2:
		// Negated distance so DESC ordering still means "nearest first".
		return "-(embedding <-> $1)"
	default:
		return "1 - (embedding <=> $1)"
	}
}

// asStoreErr maps an "undefined table" database error onto
// ErrCollectionNotFound so callers see one consistent sentinel even when the
// registry row exists but the backing table was dropped out-of-band.
func asStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, pgErr.Message)
	}
	return err
}
