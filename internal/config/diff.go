package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; connection and
// provider construction settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GenerationChanged is true if any runtime generation policy changed:
	// enabled providers, default provider, timeout, empty-context policy,
	// or the Ollama model allow-list.
	GenerationChanged bool
	NewGeneration     GenerationConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if generationChanged(old.Generation, new.Generation) {
		d.GenerationChanged = true
		d.NewGeneration = new.Generation
	}

	return d
}

func generationChanged(old, new GenerationConfig) bool {
	if !slices.Equal(old.Enabled, new.Enabled) {
		return true
	}
	if old.Default != new.Default {
		return true
	}
	if old.TimeoutSecs != new.TimeoutSecs {
		return true
	}
	if old.EmptyContext != new.EmptyContext {
		return true
	}
	return !slices.Equal(old.OllamaModels, new.OllamaModels)
}
