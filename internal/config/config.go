// Package config provides the configuration schema, loader, and provider
// registry for the Fabled server.
package config

import "time"

// LogLevel controls log verbosity for the Fabled server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// EmptyContextPolicy decides what Generate does when retrieval returns zero
// fables.
type EmptyContextPolicy string

const (
	// EmptyContextProceed generates anyway, with an explicit notice in the
	// prompt that no relevant fables were found. This is the default: a hard
	// failure is a poor experience for a question-answering endpoint.
	EmptyContextProceed EmptyContextPolicy = "proceed"

	// EmptyContextFail rejects the request instead of generating without
	// supporting context.
	EmptyContextFail EmptyContextPolicy = "fail"
)

// IsValid reports whether p is a recognised policy.
func (p EmptyContextPolicy) IsValid() bool {
	return p == EmptyContextProceed || p == EmptyContextFail
}

// Config is the root configuration structure for Fabled.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings ProviderEntry    `yaml:"embeddings"`
	Generation GenerationConfig `yaml:"generation"`
	Corpus     CorpusConfig     `yaml:"corpus"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DatabaseConfig holds the vector store connection settings.
type DatabaseConfig struct {
	// PostgresDSN is the connection string for the pgvector-enabled
	// PostgreSQL database.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Collection is the vector store collection holding the fable corpus.
	Collection string `yaml:"collection"`
}

// ProviderEntry is the common configuration block for a pluggable provider.
// The Name field selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama", "openai").
	Name string `yaml:"name"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the provider's API
	// key. Key material never lives in the config file itself.
	APIKeyEnv string `yaml:"api_key_env"`

	// Dimensions pre-sets the embedding dimensionality for models the
	// provider cannot resolve on its own. Zero means auto-detect.
	Dimensions int `yaml:"dimensions"`

	// Command overrides the executable path for CLI-driven providers.
	Command string `yaml:"command"`
}

// GenerationConfig configures the generation side of the RAG pipeline.
type GenerationConfig struct {
	// Enabled lists the providers exposed by this deployment, in the order
	// they should appear in the models listing. Requests naming a provider
	// outside this list are rejected.
	Enabled []string `yaml:"enabled"`

	// Default is the provider used when a request does not name one.
	// Empty means the first entry of Enabled.
	Default string `yaml:"default"`

	// TimeoutSecs is the per-call wall-clock budget for a generation
	// backend. Zero means DefaultGenerationTimeout.
	TimeoutSecs int `yaml:"timeout_secs"`

	// EmptyContext selects the zero-retrieval policy. Empty means proceed.
	EmptyContext EmptyContextPolicy `yaml:"empty_context"`

	// Providers holds per-provider configuration, keyed by provider name.
	Providers map[string]ProviderEntry `yaml:"providers"`

	// OllamaModels is the allow-list of Ollama models a request may select.
	// The first entry is the default model. Empty means any model.
	OllamaModels []string `yaml:"ollama_models"`
}

// DefaultGenerationTimeout bounds a single generation call when
// generation.timeout_secs is unset.
const DefaultGenerationTimeout = 60 * time.Second

// Timeout returns the configured per-call generation timeout.
func (g GenerationConfig) Timeout() time.Duration {
	if g.TimeoutSecs > 0 {
		return time.Duration(g.TimeoutSecs) * time.Second
	}
	return DefaultGenerationTimeout
}

// DefaultProvider returns the provider used when a request does not name
// one: generation.default if set, otherwise the first enabled provider.
func (g GenerationConfig) DefaultProvider() string {
	if g.Default != "" {
		return g.Default
	}
	if len(g.Enabled) > 0 {
		return g.Enabled[0]
	}
	return ""
}

// ProviderEnabled reports whether name is in the enabled list.
func (g GenerationConfig) ProviderEnabled(name string) bool {
	for _, p := range g.Enabled {
		if p == name {
			return true
		}
	}
	return false
}

// CorpusConfig holds the seed data file locations used by fabled-init.
type CorpusConfig struct {
	// RawPath is the raw fable JSON file as shipped with the corpus.
	RawPath string `yaml:"raw_path"`

	// ProcessedPath is where the normalised corpus is written before
	// upserting, so re-seeding can skip reprocessing.
	ProcessedPath string `yaml:"processed_path"`
}
