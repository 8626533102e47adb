package server_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/fabled/internal/config"
	"github.com/MrWong99/fabled/internal/rag"
	"github.com/MrWong99/fabled/internal/server"
	"github.com/MrWong99/fabled/pkg/fable"
	embmock "github.com/MrWong99/fabled/pkg/provider/embeddings/mock"
	"github.com/MrWong99/fabled/pkg/provider/generation"
	genmock "github.com/MrWong99/fabled/pkg/provider/generation/mock"
	"github.com/MrWong99/fabled/pkg/vectorstore"
	storemock "github.com/MrWong99/fabled/pkg/vectorstore/mock"
)

type fixture struct {
	embedder *embmock.Provider
	store    *storemock.Store
	ollama   *genmock.Provider
	claude   *genmock.Provider
	handler  http.Handler
}

func sampleResults() []fable.SearchResult {
	return []fable.SearchResult{
		{
			Fable: fable.Fable{
				ID: 1, Title: "The Fox and the Grapes",
				Content: "A fox tried to reach some grapes.", Moral: "It is easy to despise what you cannot have.",
				Language: "en", WordCount: 7,
			},
			Score: 0.91,
		},
		{
			Fable: fable.Fable{
				ID: 2, Title: "The Tortoise and the Hare",
				Content: "A hare raced a tortoise and lost.", Moral: "Slow and steady wins the race.",
				Language: "en", WordCount: 7,
			},
			Score: 0.74,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		embedder: &embmock.Provider{ModelIDValue: "test-embed-v1", EmbedResult: []float32{0.1, 0.2, 0.3}},
		store:    &storemock.Store{SearchResults: sampleResults(), Total: 42},
		ollama:   &genmock.Provider{NameValue: "ollama", AvailableValue: true, GenerateResult: "The moral is patience."},
		claude:   &genmock.Provider{NameValue: "claude", AvailableValue: true, GenerateResult: "Honesty pays."},
	}
	providers := map[string]generation.Provider{"ollama": f.ollama, "claude": f.claude}
	gen := config.GenerationConfig{
		Enabled:      []string{"ollama", "claude"},
		Default:      "ollama",
		TimeoutSecs:  30,
		Providers:    map[string]config.ProviderEntry{},
		OllamaModels: []string{"llama3.2", "mistral"},
	}
	svc := rag.New(f.embedder, f.store, providers, "fables", gen)
	f.handler = server.New(svc, f.store, providers, "fables").Handler()
	return f
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

type errResp struct {
	Error struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	} `json:"error"`
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	e := decodeBody[errResp](t, rec)
	if e.Error.Kind != kind {
		t.Errorf("error kind = %q, want %q (detail %q)", e.Error.Kind, kind, e.Error.Detail)
	}
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["health"] != "/health" {
		t.Errorf("health link = %q, want /health", body["health"])
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/search", `{"query": "who wins the race?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	type resp struct {
		Query        string `json:"query"`
		TotalResults int    `json:"total_results"`
		Results      []struct {
			ID        int64   `json:"id"`
			Title     string  `json:"title"`
			Content   string  `json:"content"`
			Moral     string  `json:"moral"`
			Score     float64 `json:"score"`
			Language  string  `json:"language"`
			WordCount int     `json:"word_count"`
		} `json:"results"`
	}
	body := decodeBody[resp](t, rec)
	if body.Query != "who wins the race?" {
		t.Errorf("query = %q", body.Query)
	}
	if body.TotalResults != 2 || len(body.Results) != 2 {
		t.Fatalf("total_results = %d, len(results) = %d, want 2/2", body.TotalResults, len(body.Results))
	}
	first := body.Results[0]
	if first.ID != 1 || first.Title != "The Fox and the Grapes" || first.Score != 0.91 {
		t.Errorf("first result = %+v", first)
	}
	if first.Moral == "" || first.Content == "" || first.Language != "en" || first.WordCount != 7 {
		t.Errorf("flattened fields missing: %+v", first)
	}

	if got := f.store.SearchCalls[0].TopK; got != 5 {
		t.Errorf("default limit = %d, want 5", got)
	}
}

func TestSearch_ScoreThreshold(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/search", `{"query": "race", "score_threshold": 0.8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	type resp struct {
		TotalResults int `json:"total_results"`
	}
	if got := decodeBody[resp](t, rec).TotalResults; got != 1 {
		t.Errorf("total_results = %d, want 1 after threshold filter", got)
	}
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"blank query", `{"query": "  "}`},
		{"limit too small", `{"query": "x", "limit": 0}`},
		{"limit too large", `{"query": "x", "limit": 21}`},
		{"threshold negative", `{"query": "x", "score_threshold": -0.1}`},
		{"threshold above one", `{"query": "x", "score_threshold": 1.5}`},
		{"malformed json", `{"query": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := doJSON(t, f.handler, http.MethodPost, "/search", tt.body)
			assertError(t, rec, http.StatusUnprocessableEntity, "invalid_input")
			if len(f.store.SearchCalls) != 0 {
				t.Errorf("store searched %d times, want 0", len(f.store.SearchCalls))
			}
		})
	}
}

func TestSearch_CollectionNotSeeded(t *testing.T) {
	f := newFixture(t)
	f.store.SearchErr = vectorstore.ErrCollectionNotFound

	rec := doJSON(t, f.handler, http.MethodPost, "/search", `{"query": "race"}`)
	assertError(t, rec, http.StatusServiceUnavailable, "collection_not_found")
	e := decodeBody[errResp](t, rec)
	if !strings.Contains(e.Error.Detail, "fabled-init") {
		t.Errorf("detail %q should point at fabled-init", e.Error.Detail)
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "who wins the race?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	type resp struct {
		Query        string  `json:"query"`
		Answer       string  `json:"answer"`
		ProviderUsed string  `json:"provider_used"`
		Model        string  `json:"model"`
		Sources      []int64 `json:"sources"`
	}
	body := decodeBody[resp](t, rec)
	if body.Answer != "The moral is patience." {
		t.Errorf("answer = %q", body.Answer)
	}
	if body.ProviderUsed != "ollama" || body.Model != "llama3.2" {
		t.Errorf("provider_used = %q, model = %q, want ollama/llama3.2", body.ProviderUsed, body.Model)
	}
	if len(body.Sources) != 2 || body.Sources[0] != 1 || body.Sources[1] != 2 {
		t.Errorf("sources = %v, want [1 2]", body.Sources)
	}
	if got := f.store.SearchCalls[0].TopK; got != 3 {
		t.Errorf("default generate limit = %d, want 3", got)
	}
}

func TestGenerate_ExplicitProvider(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "honesty?", "provider": "claude"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	type resp struct {
		Answer       string `json:"answer"`
		ProviderUsed string `json:"provider_used"`
		Model        string `json:"model"`
	}
	body := decodeBody[resp](t, rec)
	if body.Answer != "Honesty pays." {
		t.Errorf("answer = %q", body.Answer)
	}
	if body.ProviderUsed != "claude" {
		t.Errorf("provider_used = %q, want claude", body.ProviderUsed)
	}
	if body.Model != "" {
		t.Errorf("model = %q, want empty for CLI providers", body.Model)
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "x", "provider": "grok"}`)
		assertError(t, rec, http.StatusBadRequest, "provider_unavailable")
	})

	t.Run("unlisted ollama model", func(t *testing.T) {
		f := newFixture(t)
		rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "x", "model": "gpt-oss"}`)
		assertError(t, rec, http.StatusBadRequest, "provider_unavailable")
	})

	t.Run("limit out of range", func(t *testing.T) {
		f := newFixture(t)
		rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "x", "limit": 11}`)
		assertError(t, rec, http.StatusUnprocessableEntity, "invalid_input")
	})

	t.Run("backend failure", func(t *testing.T) {
		f := newFixture(t)
		f.ollama.GenerateErr = errors.New("connection refused")
		rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "x"}`)
		assertError(t, rec, http.StatusBadGateway, "generation_failed")
	})

	t.Run("backend unreachable", func(t *testing.T) {
		f := newFixture(t)
		f.ollama.AvailableValue = false
		rec := doJSON(t, f.handler, http.MethodPost, "/generate", `{"query": "x"}`)
		assertError(t, rec, http.StatusBadRequest, "provider_unavailable")
	})
}

func TestGetFable(t *testing.T) {
	f := newFixture(t)
	f.store.Fables = map[int64]fable.Fable{
		7: {ID: 7, Title: "The Ant and the Grasshopper", Content: "An ant stored food.", Moral: "Prepare for lean times."},
	}

	rec := doJSON(t, f.handler, http.MethodGet, "/fables/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	got := decodeBody[fable.Fable](t, rec)
	if got.ID != 7 || got.Title != "The Ant and the Grasshopper" {
		t.Errorf("fable = %+v", got)
	}

	rec = doJSON(t, f.handler, http.MethodGet, "/fables/99", "")
	assertError(t, rec, http.StatusNotFound, "not_found")

	rec = doJSON(t, f.handler, http.MethodGet, "/fables/abc", "")
	assertError(t, rec, http.StatusUnprocessableEntity, "invalid_input")
}

func TestModels(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodGet, "/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	type resp struct {
		Providers       []string `json:"providers"`
		DefaultProvider string   `json:"default_provider"`
		OllamaModels    []string `json:"ollama_models"`
	}
	body := decodeBody[resp](t, rec)
	if body.DefaultProvider != "ollama" {
		t.Errorf("default_provider = %q", body.DefaultProvider)
	}
	if len(body.Providers) != 2 || body.Providers[0] != "ollama" {
		t.Errorf("providers = %v", body.Providers)
	}
	if len(body.OllamaModels) != 2 || body.OllamaModels[0] != "llama3.2" {
		t.Errorf("ollama_models = %v", body.OllamaModels)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.handler, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	type resp struct {
		Status         string          `json:"status"`
		StoreReachable bool            `json:"vector_store_reachable"`
		Collection     string          `json:"collection_name"`
		TotalFables    int64           `json:"total_fables"`
		Providers      map[string]bool `json:"providers"`
	}
	body := decodeBody[resp](t, rec)
	if body.Status != "healthy" || !body.StoreReachable || body.Collection != "fables" || body.TotalFables != 42 {
		t.Errorf("health = %+v", body)
	}
	if !body.Providers["ollama"] || !body.Providers["claude"] {
		t.Errorf("providers = %v, want both available", body.Providers)
	}
}

func TestHealth_ProviderDown(t *testing.T) {
	f := newFixture(t)
	f.claude.AvailableValue = false

	rec := doJSON(t, f.handler, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 — a down provider must not fail /health", rec.Code)
	}
	type resp struct {
		Providers map[string]bool `json:"providers"`
	}
	body := decodeBody[resp](t, rec)
	if !body.Providers["ollama"] || body.Providers["claude"] {
		t.Errorf("providers = %v, want ollama up and claude down", body.Providers)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	t.Run("database down", func(t *testing.T) {
		f := newFixture(t)
		f.store.CountErr = errors.New("connection refused")
		rec := doJSON(t, f.handler, http.MethodGet, "/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		type resp struct {
			StoreReachable bool `json:"vector_store_reachable"`
		}
		if decodeBody[resp](t, rec).StoreReachable {
			t.Error("vector_store_reachable = true, want false")
		}
	})

	t.Run("collection missing", func(t *testing.T) {
		f := newFixture(t)
		f.store.CountErr = vectorstore.ErrCollectionNotFound
		rec := doJSON(t, f.handler, http.MethodGet, "/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		type resp struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		body := decodeBody[resp](t, rec)
		if body.Status != "unhealthy" || !strings.Contains(body.Message, "fabled-init") {
			t.Errorf("health = %+v", body)
		}
	})
}

func TestProbesAndMetrics(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := doJSON(t, f.handler, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200 (body %s)", path, rec.Code, rec.Body.String())
		}
	}
}

func TestReadyz_EmbedderBroken(t *testing.T) {
	t.Run("backend unreachable", func(t *testing.T) {
		f := newFixture(t)
		f.embedder.EmbedErr = errors.New("connection refused")

		rec := doJSON(t, f.handler, http.MethodGet, "/readyz", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503 (body %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "embedder") {
			t.Errorf("body %q should name the embedder check", rec.Body.String())
		}
	})

	t.Run("dimension mismatch with seeded collection", func(t *testing.T) {
		f := newFixture(t)
		f.store.SearchErr = vectorstore.ErrDimensionMismatch

		rec := doJSON(t, f.handler, http.MethodGet, "/readyz", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503 (body %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "embedder") {
			t.Errorf("body %q should name the embedder check", rec.Body.String())
		}
	})
}

func TestReadyz_ProviderDown(t *testing.T) {
	f := newFixture(t)
	f.claude.AvailableValue = false

	rec := doJSON(t, f.handler, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "provider/claude") {
		t.Errorf("body %q should name the failing check", rec.Body.String())
	}
}
