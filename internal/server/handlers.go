package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fabled/internal/rag"
	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/vectorstore"
)

// Request payload limits. Retrieval beyond these sizes produces prompts too
// large to be useful.
const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
	defaultGenLimit    = 3
	maxGenLimit        = 10
)

type searchRequest struct {
	Query          string   `json:"query"`
	Limit          *int     `json:"limit"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

type generateRequest struct {
	Query    string `json:"query"`
	Limit    *int   `json:"limit"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// fableResult is the flattened wire shape for one retrieved fable.
type fableResult struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Moral     string  `json:"moral"`
	Score     float64 `json:"score"`
	Language  string  `json:"language,omitempty"`
	WordCount int     `json:"word_count,omitempty"`
}

type searchResponse struct {
	Query        string        `json:"query"`
	Results      []fableResult `json:"results"`
	TotalResults int           `json:"total_results"`
}

type generateResponse struct {
	Query        string  `json:"query"`
	Answer       string  `json:"answer"`
	Sources      []int64 `json:"sources"`
	ProviderUsed string  `json:"provider_used"`
	Model        string  `json:"model,omitempty"`
}

type healthResponse struct {
	Status         string          `json:"status"`
	Message        string          `json:"message,omitempty"`
	StoreReachable bool            `json:"vector_store_reachable"`
	Collection     string          `json:"collection_name"`
	TotalFables    int64           `json:"total_fables"`
	Providers      map[string]bool `json:"providers"`
}

type modelsResponse struct {
	Providers       []string `json:"providers"`
	DefaultProvider string   `json:"default_provider"`
	OllamaModels    []string `json:"ollama_models"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func toResults(results []fable.SearchResult) []fableResult {
	out := make([]fableResult, len(results))
	for i, r := range results {
		out[i] = fableResult{
			ID:        r.Fable.ID,
			Title:     r.Fable.Title,
			Content:   r.Fable.Content,
			Moral:     r.Fable.Moral,
			Score:     r.Score,
			Language:  r.Fable.Language,
			WordCount: r.Fable.WordCount,
		}
	}
	return out
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the Fable RAG API",
		"health":  "/health",
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := defaultSearchLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > maxSearchLimit {
		s.writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", rag.ErrInvalidInput, maxSearchLimit))
		return
	}
	if req.ScoreThreshold != nil && (*req.ScoreThreshold < 0 || *req.ScoreThreshold > 1) {
		s.writeError(w, r, fmt.Errorf("%w: score_threshold must be between 0 and 1", rag.ErrInvalidInput))
		return
	}

	results, err := s.svc.Search(r.Context(), req.Query, limit, req.ScoreThreshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:        req.Query,
		Results:      toResults(results),
		TotalResults: len(results),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := defaultGenLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > maxGenLimit {
		s.writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", rag.ErrInvalidInput, maxGenLimit))
		return
	}

	result, err := s.svc.Generate(r.Context(), req.Query, limit, req.Provider, req.Model)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sources := make([]int64, len(result.Sources))
	for i, src := range result.Sources {
		sources[i] = src.Fable.ID
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Query:        req.Query,
		Answer:       result.Answer,
		Sources:      sources,
		ProviderUsed: result.Provider,
		Model:        result.Model,
	})
}

func (s *Server) handleGetFable(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: fable id must be an integer", rag.ErrInvalidInput))
		return
	}

	f, err := s.svc.GetFable(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	gen := s.svc.Generation()
	writeJSON(w, http.StatusOK, modelsResponse{
		Providers:       gen.Enabled,
		DefaultProvider: gen.DefaultProvider(),
		OllamaModels:    gen.OllamaModels,
	})
}

// probeTimeout bounds each provider availability probe on /health.
const probeTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Collection: s.collection,
		Providers:  s.probeProviders(r.Context()),
	}

	count, err := s.store.Count(r.Context(), s.collection)
	if err != nil {
		resp.Status = "unhealthy"
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			resp.StoreReachable = true
			resp.Message = fmt.Sprintf("collection %q does not exist; run fabled-init to seed it", s.collection)
		} else {
			resp.Message = "vector store is not reachable"
			s.logger.Error("health check failed", "error", err)
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "healthy"
	resp.StoreReachable = true
	resp.TotalFables = count
	writeJSON(w, http.StatusOK, resp)
}

// probeProviders checks every wired generation backend concurrently. A down
// provider is reported, not treated as an overall failure: the search side of
// the API works without any generation backend.
func (s *Server) probeProviders(ctx context.Context) map[string]bool {
	var (
		mu        sync.Mutex
		available = make(map[string]bool, len(s.providers))
	)
	g, ctx := errgroup.WithContext(ctx)
	for name, p := range s.providers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			ok := p.Available(probeCtx)
			mu.Lock()
			available[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return available
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", rag.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses and a structured body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *rag.GenerationError

	status := http.StatusInternalServerError
	kind := "internal"
	detail := "internal error"

	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		status, kind, detail = http.StatusUnprocessableEntity, "invalid_input", err.Error()
	case errors.Is(err, vectorstore.ErrNotFound):
		status, kind, detail = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		status, kind = http.StatusServiceUnavailable, "collection_not_found"
		detail = fmt.Sprintf("collection %q does not exist; run fabled-init to seed it", s.collection)
	case errors.Is(err, rag.ErrProviderUnavailable):
		status, kind, detail = http.StatusBadRequest, "provider_unavailable", err.Error()
	case errors.Is(err, rag.ErrNoContext):
		status, kind, detail = http.StatusUnprocessableEntity, "no_context", err.Error()
	case errors.Is(err, rag.ErrGenerationTimeout):
		status, kind, detail = http.StatusGatewayTimeout, "generation_timeout", err.Error()
	case errors.As(err, &genErr):
		status, kind, detail = http.StatusBadGateway, "generation_failed", genErr.Error()
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Detail: detail}})
}
