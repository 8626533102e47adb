// Command fabled-init processes the raw fable corpus and seeds the vector
// store: it validates and normalises the raw JSON, writes the processed form
// next to it, embeds every fable, and upserts the result into the configured
// collection. Run it once before starting fabled, and again whenever the
// corpus or the embedding model changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/fabled/internal/config"
	"github.com/MrWong99/fabled/internal/corpus"
	"github.com/MrWong99/fabled/pkg/fable"
	"github.com/MrWong99/fabled/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/fabled/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/fabled/pkg/provider/embeddings/openai"
	"github.com/MrWong99/fabled/pkg/vectorstore/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	skipProcess := flag.Bool("skip-process", false, "seed from the already-processed corpus file instead of the raw one")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fabled-init: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fabled-init: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fables, err := loadCorpus(cfg, *skipProcess)
	if err != nil {
		slog.Error("corpus preparation failed", "err", err)
		return 1
	}
	slog.Info("corpus ready", "fables", len(fables))

	embedder, err := buildEmbedder(cfg.Embeddings)
	if err != nil {
		slog.Error("failed to create embeddings provider", "name", cfg.Embeddings.Name, "err", err)
		return 1
	}

	store, err := postgres.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer store.Close()

	seeder := corpus.NewSeeder(embedder, store, corpus.WithLogger(logger))
	count, err := seeder.Seed(ctx, cfg.Database.Collection, fables)
	if err != nil {
		slog.Error("seeding failed", "err", err)
		return 1
	}

	slog.Info("seeding complete",
		"collection", cfg.Database.Collection,
		"fables", count,
		"embedding_model", embedder.ModelID(),
	)
	return 0
}

// loadCorpus either runs the full raw → processed pipeline or, with
// -skip-process, reuses the processed file from a previous run.
func loadCorpus(cfg *config.Config, skipProcess bool) ([]fable.Fable, error) {
	if skipProcess {
		return corpus.LoadProcessed(cfg.Corpus.ProcessedPath)
	}

	raw, err := corpus.LoadRaw(cfg.Corpus.RawPath)
	if err != nil {
		return nil, err
	}
	fables, err := corpus.Process(raw)
	if err != nil {
		var verr *corpus.ValidationError
		if errors.As(err, &verr) {
			for _, issue := range verr.Issues {
				slog.Error("corpus validation issue", "issue", issue)
			}
		}
		return nil, err
	}
	if err := corpus.WriteProcessed(cfg.Corpus.ProcessedPath, fables); err != nil {
		return nil, err
	}
	slog.Info("processed corpus written", "path", cfg.Corpus.ProcessedPath)
	return fables, nil
}

// buildEmbedder constructs the configured embeddings provider. fabled-init
// only needs embeddings, so it wires them directly instead of going through
// the full provider registry.
func buildEmbedder(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "ollama":
		var opts []ollamaembed.Option
		if entry.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(entry.Dimensions))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		key := ""
		if entry.APIKeyEnv != "" {
			key = os.Getenv(entry.APIKeyEnv)
		}
		return oaembed.New(key, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}
