// Package generation defines the Provider interface for text-generation
// backends.
//
// A generation provider takes a fully assembled prompt (the user's question
// plus retrieved fable context) and returns generated text. Backends fall
// into two families: a local inference server spoken to over HTTP (Ollama),
// and CLI-driven assistants invoked as subprocesses (claude, gemini, codex).
// The orchestrator treats them uniformly; adding a backend means adding a
// package that implements Provider, never subclassing anything.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation promptly: when ctx is cancelled or its deadline passes, any
// in-flight HTTP request is abandoned and any child process is killed.
package generation

import "context"

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Generate produces text for the given prompt. model optionally selects
	// a backend-specific model; empty means the provider's default. The call
	// honours ctx for cancellation and deadlines — generation is never
	// retried automatically.
	Generate(ctx context.Context, prompt string, model string) (string, error)

	// Available reports whether the backend can currently serve requests:
	// for an HTTP backend, whether the server is reachable; for a CLI
	// backend, whether the executable is installed. Used by the health
	// endpoint and for request-time validation before dispatch.
	Available(ctx context.Context) bool

	// Name returns the provider's stable identifier as used in configuration
	// and API requests (e.g., "ollama", "claude", "gemini", "codex").
	Name() string
}
