// Package server exposes the Fabled HTTP API: fable search, RAG answer
// generation, fable lookup, model discovery, and the health/metrics surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/fabled/internal/health"
	"github.com/MrWong99/fabled/internal/observe"
	"github.com/MrWong99/fabled/internal/rag"
	"github.com/MrWong99/fabled/pkg/provider/generation"
	"github.com/MrWong99/fabled/pkg/vectorstore"
)

// shutdownTimeout bounds graceful drain of in-flight requests on stop.
const shutdownTimeout = 15 * time.Second

// Server wires the orchestrator and its backends into an HTTP handler.
type Server struct {
	svc        *rag.Service
	store      vectorstore.Store
	providers  map[string]generation.Provider
	collection string
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server. store and providers are the same instances the
// orchestrator uses; the server needs them directly for the health surface.
func New(
	svc *rag.Service,
	store vectorstore.Store,
	providers map[string]generation.Provider,
	collection string,
	opts ...Option,
) *Server {
	s := &Server{
		svc:        svc,
		store:      store,
		providers:  providers,
		collection: collection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("GET /fables/{id}", s.handleGetFable)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.healthHandler().Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// healthHandler builds the /readyz checker set: the database, the embedder
// (including vector-length agreement with the seeded collection), and one
// probe per wired generation provider. Probes run concurrently inside the
// handler.
func (s *Server) healthHandler() *health.Handler {
	checkers := []health.Checker{
		{Name: "database", Check: s.store.Ping},
		{Name: "embedder", Check: s.svc.VerifyEmbedder},
	}
	for name, p := range s.providers {
		checkers = append(checkers, health.Checker{
			Name: "provider/" + name,
			Check: func(ctx context.Context) error {
				if !p.Available(ctx) {
					return fmt.Errorf("%s backend is not reachable", p.Name())
				}
				return nil
			},
		})
	}
	return health.New(checkers...)
}

// Run serves the API on addr until ctx is cancelled, then drains in-flight
// requests for up to [shutdownTimeout].
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
