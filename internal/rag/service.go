package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/fabled/internal/config"
	"github.com/MrWong99/fabled/internal/observe"
	"github.com/MrWong99/fabled/internal/resilience"
	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/provider/embeddings"
	"github.com/MrWong99/fabled/pkg/provider/generation"
	"github.com/MrWong99/fabled/pkg/vectorstore"
)

// GenerationResult is the outcome of one generate pipeline run.
type GenerationResult struct {
	// Answer is the generated text.
	Answer string

	// Sources are the retrieved fables the prompt was built from, highest
	// score first. Empty when retrieval found nothing and the policy was to
	// proceed anyway.
	Sources []fable.SearchResult

	// Provider is the name of the backend that produced the answer.
	Provider string

	// Model is the backend-specific model that was used, when one was
	// selected. Empty for providers without model selection.
	Model string
}

// Service runs the search and generate pipelines. It holds the process-wide
// embedder and store handles plus one instance (and one circuit breaker) per
// wired generation provider; all request handling goes through explicit
// method calls, never globals.
//
// Generation policy (enabled providers, default, timeout, empty-context
// behaviour) can be swapped at runtime via [Service.UpdateGeneration], which
// the config hot-reload path uses.
type Service struct {
	embedder   embeddings.Provider
	store      vectorstore.Store
	providers  map[string]generation.Provider
	breakers   map[string]*resilience.Breaker
	collection string
	metrics    *observe.Metrics
	logger     *slog.Logger

	mu  sync.RWMutex
	gen config.GenerationConfig
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates the orchestrator over the given backends. providers maps
// provider names to instances; only names present in gen.Enabled are ever
// dispatched to.
func New(
	embedder embeddings.Provider,
	store vectorstore.Store,
	providers map[string]generation.Provider,
	collection string,
	gen config.GenerationConfig,
	opts ...Option,
) *Service {
	s := &Service{
		embedder:   embedder,
		store:      store,
		providers:  providers,
		breakers:   make(map[string]*resilience.Breaker, len(providers)),
		collection: collection,
		gen:        gen,
		logger:     slog.Default(),
	}
	for name := range providers {
		s.breakers[name] = resilience.New("generation/" + name)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Generation returns the current generation policy snapshot.
func (s *Service) Generation() config.GenerationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// UpdateGeneration swaps the generation policy. In-flight requests keep the
// snapshot they started with.
func (s *Service) UpdateGeneration(gen config.GenerationConfig) {
	s.mu.Lock()
	s.gen = gen
	s.mu.Unlock()
	s.logger.Info("generation policy updated",
		"enabled", gen.Enabled,
		"default", gen.DefaultProvider(),
		"timeout", gen.Timeout(),
	)
}

// VerifyEmbedder issues one probe embed and checks the resulting vector
// against the seeded collection. An unreachable embeddings backend, or a
// model change that altered the vector length since seeding, must surface
// here — at startup and on the readiness probe — not as per-request
// failures. A collection that has not been seeded yet is not an error; the
// health endpoint reports that state separately.
func (s *Service) VerifyEmbedder(ctx context.Context) error {
	vec, err := s.embedder.Embed(ctx, "the boy who cried wolf")
	if err != nil {
		return fmt.Errorf("rag: embeddings backend %q is not usable: %w", s.embedder.ModelID(), err)
	}

	_, err = s.store.Search(ctx, s.collection, vec, 1, nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return nil
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return fmt.Errorf("rag: model %q produces %d-dimensional vectors, which does not match collection %q — reseed with fabled-init or fix the embeddings config: %w",
			s.embedder.ModelID(), len(vec), s.collection, err)
	default:
		return fmt.Errorf("rag: verify embedder: %w", err)
	}
}

// Search embeds query and returns up to limit fables ranked by similarity,
// optionally filtered to score >= minScore. Zero results is a valid outcome,
// not an error. Returns [ErrInvalidInput] for a blank query or non-positive
// limit, and [vectorstore.ErrCollectionNotFound] if the corpus has not been
// seeded yet.
func (s *Service) Search(ctx context.Context, query string, limit int, minScore *float64) ([]fable.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}

	results, err := s.search(ctx, query, limit, minScore)
	if err != nil {
		s.metrics.RecordSearch(ctx, "error")
		return nil, err
	}
	s.metrics.RecordSearch(ctx, "ok")
	return results, nil
}

// search is the shared retrieval phase, used by both pipelines. Input is
// assumed validated.
func (s *Service) search(ctx context.Context, query string, limit int, minScore *float64) ([]fable.SearchResult, error) {
	embedStart := time.Now()
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, embeddings.ErrEmptyInput) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	s.metrics.EmbedDuration.Record(ctx, time.Since(embedStart).Seconds())

	searchStart := time.Now()
	results, err := s.store.Search(ctx, s.collection, vec, limit, minScore)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	s.metrics.SearchDuration.Record(ctx, time.Since(searchStart).Seconds())

	return results, nil
}

// GetFable returns a single fable by id. Returns
// [vectorstore.ErrNotFound] when no such fable exists.
func (s *Service) GetFable(ctx context.Context, id int64) (fable.Fable, error) {
	return s.store.GetByID(ctx, s.collection, id)
}

// Generate answers query with retrieval-augmented generation: search first,
// build a prompt from the hits, dispatch to the selected provider.
//
// providerName selects the backend; empty means the configured default.
// model optionally selects a backend model (validated against the allow-list
// for Ollama). The search phase runs exactly once; a provider failure after
// retrieval never repeats it.
func (s *Service) Generate(ctx context.Context, query string, limit int, providerName, model string) (*GenerationResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}

	gen := s.Generation()

	// Resolve and validate the provider before doing any backend work.
	if providerName == "" {
		providerName = gen.DefaultProvider()
	}
	if providerName == "" || !gen.ProviderEnabled(providerName) {
		return nil, fmt.Errorf("%w: %q is not enabled (available: %s)",
			ErrProviderUnavailable, providerName, strings.Join(gen.Enabled, ", "))
	}
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %q is enabled but not wired", ErrProviderUnavailable, providerName)
	}
	model, err := resolveModel(gen, providerName, model)
	if err != nil {
		return nil, err
	}

	// Retrieval phase.
	results, err := s.search(ctx, query, limit, nil)
	if err != nil {
		s.metrics.RecordGeneration(ctx, providerName, "error")
		return nil, err
	}

	if len(results) == 0 && gen.EmptyContext == config.EmptyContextFail {
		s.metrics.RecordGeneration(ctx, providerName, "no_context")
		return nil, fmt.Errorf("%w for query %q", ErrNoContext, query)
	}

	// The availability probe runs after retrieval so an unreachable backend
	// surfaces without discarding a successful search, and the search is
	// never repeated.
	if !provider.Available(ctx) {
		s.metrics.RecordProviderError(ctx, providerName, "unavailable")
		s.metrics.RecordGeneration(ctx, providerName, "unavailable")
		return nil, fmt.Errorf("%w: %q backend is not reachable", ErrProviderUnavailable, providerName)
	}

	prompt := BuildPrompt(query, results)

	timeout := gen.Timeout()
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Each provider is guarded by a circuit breaker so a backend that keeps
	// failing is rejected without spawning its subprocess or HTTP call.
	genStart := time.Now()
	var answer string
	err = s.breakers[providerName].Do(func() error {
		var genErr error
		answer, genErr = provider.Generate(genCtx, prompt, model)
		return genErr
	})
	s.metrics.GenerationDuration.Record(ctx, time.Since(genStart).Seconds(),
		metric.WithAttributes(observe.Attr("provider", providerName)),
	)
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			s.metrics.RecordProviderError(ctx, providerName, "unavailable")
			s.metrics.RecordGeneration(ctx, providerName, "unavailable")
			return nil, fmt.Errorf("%w: %q is temporarily disabled after repeated failures", ErrProviderUnavailable, providerName)
		}
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			s.metrics.RecordProviderError(ctx, providerName, "timeout")
			s.metrics.RecordGeneration(ctx, providerName, "timeout")
			return nil, fmt.Errorf("%w: provider %q exceeded %s", ErrGenerationTimeout, providerName, timeout)
		}
		s.metrics.RecordProviderError(ctx, providerName, "generation")
		s.metrics.RecordGeneration(ctx, providerName, "error")
		return nil, &GenerationError{Provider: providerName, Err: err}
	}

	s.metrics.RecordGeneration(ctx, providerName, "ok")
	s.logger.Info("generation complete",
		"provider", providerName,
		"model", model,
		"sources", len(results),
		"took", time.Since(genStart),
	)

	return &GenerationResult{
		Answer:   answer,
		Sources:  results,
		Provider: providerName,
		Model:    model,
	}, nil
}

// resolveModel applies the Ollama model allow-list: an empty model falls back
// to the first allowed one, and an unlisted model is rejected. Providers
// without an allow-list pass the model through untouched.
func resolveModel(gen config.GenerationConfig, providerName, model string) (string, error) {
	if providerName != "ollama" || len(gen.OllamaModels) == 0 {
		return model, nil
	}
	if model == "" {
		return gen.OllamaModels[0], nil
	}
	if !slices.Contains(gen.OllamaModels, model) {
		return "", fmt.Errorf("%w: model %q is not available (available: %s)",
			ErrProviderUnavailable, model, strings.Join(gen.OllamaModels, ", "))
	}
	return model, nil
}
