// Command fabled serves the Fable RAG API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrWong99/fabled/internal/config"
	"github.com/MrWong99/fabled/internal/observe"
	"github.com/MrWong99/fabled/internal/rag"
	"github.com/MrWong99/fabled/internal/server"
	"github.com/MrWong99/fabled/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/fabled/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/fabled/pkg/provider/embeddings/openai"
	"github.com/MrWong99/fabled/pkg/provider/generation"
	"github.com/MrWong99/fabled/pkg/provider/generation/claude"
	"github.com/MrWong99/fabled/pkg/provider/generation/codex"
	"github.com/MrWong99/fabled/pkg/provider/generation/gemini"
	ollamagen "github.com/MrWong99/fabled/pkg/provider/generation/ollama"
	"github.com/MrWong99/fabled/pkg/vectorstore/postgres"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fabled: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fabled: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it without
	// swapping the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("fabled starting",
		"version", Version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fabled",
		ServiceVersion: Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	embedder, err := reg.CreateEmbeddings(cfg.Embeddings)
	if err != nil {
		slog.Error("failed to create embeddings provider", "name", cfg.Embeddings.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Embeddings.Name, "model", embedder.ModelID())

	providers, err := buildGenerationProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build generation providers", "err", err)
		return 1
	}

	// ── Vector store ──────────────────────────────────────────────────────────
	store, err := postgres.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer store.Close()

	// ── Orchestrator and HTTP server ──────────────────────────────────────────
	svc := rag.New(embedder, store, providers, cfg.Database.Collection, cfg.Generation,
		rag.WithLogger(logger))

	// A dead embeddings backend or a vector-length mismatch with the seeded
	// collection would otherwise fail every request. Refuse to start instead.
	if err := svc.VerifyEmbedder(ctx); err != nil {
		slog.Error("embeddings verification failed", "err", err)
		return 1
	}
	srv := server.New(svc, store, providers, cfg.Database.Collection,
		server.WithLogger(logger))

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			levelVar.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.GenerationChanged {
			svc.UpdateGeneration(diff.NewGeneration)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx, cfg.Server.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages. API keys are resolved from the
// environment variable the entry names, never from the config file.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if entry.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(entry.Dimensions))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(apiKey(entry), entry.Model, opts...)
	})

	// ── Generation ────────────────────────────────────────────────────────────

	reg.RegisterGeneration("ollama", func(entry config.ProviderEntry) (generation.Provider, error) {
		model := entry.Model
		if model == "" && len(cfg.Generation.OllamaModels) > 0 {
			model = cfg.Generation.OllamaModels[0]
		}
		return ollamagen.New(entry.BaseURL, model)
	})

	reg.RegisterGeneration("claude", func(entry config.ProviderEntry) (generation.Provider, error) {
		var opts []claude.Option
		if entry.Command != "" {
			opts = append(opts, claude.WithCommand(entry.Command))
		}
		return claude.New(opts...), nil
	})

	reg.RegisterGeneration("gemini", func(entry config.ProviderEntry) (generation.Provider, error) {
		var opts []gemini.Option
		if entry.Command != "" {
			opts = append(opts, gemini.WithCommand(entry.Command))
		}
		if entry.Model != "" {
			opts = append(opts, gemini.WithDefaultModel(entry.Model))
		}
		return gemini.New(opts...), nil
	})

	reg.RegisterGeneration("codex", func(entry config.ProviderEntry) (generation.Provider, error) {
		var opts []codex.Option
		if entry.Command != "" {
			opts = append(opts, codex.WithCommand(entry.Command))
		}
		return codex.New(opts...), nil
	})
}

// buildGenerationProviders instantiates one provider per enabled name. The
// config may carry a providers entry with overrides; absent that, defaults
// apply.
func buildGenerationProviders(cfg *config.Config, reg *config.Registry) (map[string]generation.Provider, error) {
	providers := make(map[string]generation.Provider, len(cfg.Generation.Enabled))
	for _, name := range cfg.Generation.Enabled {
		entry := cfg.Generation.Providers[name]
		if entry.Name == "" {
			entry.Name = name
		}
		p, err := reg.CreateGeneration(entry)
		if err != nil {
			return nil, fmt.Errorf("create generation provider %q: %w", name, err)
		}
		providers[name] = p
		slog.Info("provider created", "kind", "generation", "name", name)
	}
	return providers, nil
}

// apiKey resolves an entry's API key from the environment.
func apiKey(entry config.ProviderEntry) string {
	if entry.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(entry.APIKeyEnv)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Fabled — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Embeddings", cfg.Embeddings.Name+" / "+cfg.Embeddings.Model)
	printField("Generation", strings.Join(cfg.Generation.Enabled, ", "))
	printField("Default LLM", cfg.Generation.DefaultProvider())
	printField("Collection", cfg.Database.Collection)
	printField("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
