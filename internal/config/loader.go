package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"ollama", "openai"},
	"generation": {"ollama", "claude", "gemini", "codex"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}
	if cfg.Database.Collection == "" {
		errs = append(errs, errors.New("database.collection is required"))
	}

	// Embeddings
	if cfg.Embeddings.Name == "" {
		errs = append(errs, errors.New("embeddings.name is required"))
	} else {
		validateProviderName("embeddings", cfg.Embeddings.Name)
	}
	if cfg.Embeddings.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimensions %d must not be negative", cfg.Embeddings.Dimensions))
	}

	// Generation
	gen := cfg.Generation
	seen := make(map[string]int, len(gen.Enabled))
	for i, name := range gen.Enabled {
		prefix := fmt.Sprintf("generation.enabled[%d]", i)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", prefix))
			continue
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of generation.enabled[%d]", prefix, name, prev))
		}
		seen[name] = i
		validateProviderName("generation", name)
	}
	if gen.Default != "" && !gen.ProviderEnabled(gen.Default) {
		errs = append(errs, fmt.Errorf("generation.default %q is not in generation.enabled", gen.Default))
	}
	if gen.TimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("generation.timeout_secs %d must not be negative", gen.TimeoutSecs))
	}
	if gen.EmptyContext != "" && !gen.EmptyContext.IsValid() {
		errs = append(errs, fmt.Errorf("generation.empty_context %q is invalid; valid values: proceed, fail", gen.EmptyContext))
	}
	for name := range gen.Providers {
		if !gen.ProviderEnabled(name) {
			slog.Warn("generation.providers entry is not in generation.enabled; it will be ignored", "name", name)
		}
	}
	if len(gen.Enabled) == 0 {
		slog.Warn("generation.enabled is empty; the generate endpoint will reject all requests")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
