// Package mock provides a test double for the generation.Provider interface.
//
// Use Provider in unit tests to feed controlled answers and to verify which
// prompts the orchestrator dispatches, without a live backend or subprocess.
//
// Example:
//
//	p := &mock.Provider{NameValue: "ollama", AvailableValue: true, GenerateResult: "Honesty pays."}
//	answer, _ := p.Generate(ctx, prompt, "")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fabled/pkg/provider/generation"
)

// Ensure Provider implements generation.Provider at compile time.
var _ generation.Provider = (*Provider)(nil)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Prompt is the prompt passed to Generate.
	Prompt string
	// Model is the model passed to Generate.
	Model string
}

// Provider is a mock implementation of generation.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors; set GenerateErr to inject failures.
type Provider struct {
	mu sync.Mutex

	// GenerateResult is returned by Generate when GenerateErr is nil.
	GenerateResult string

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// GenerateFunc, if non-nil, overrides GenerateResult/GenerateErr
	// entirely. Useful for context-sensitive behaviour such as blocking
	// until ctx is cancelled.
	GenerateFunc func(ctx context.Context, prompt, model string) (string, error)

	// AvailableValue is returned by Available.
	AvailableValue bool

	// NameValue is returned by Name.
	NameValue string

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall

	// AvailableCallCount is the number of times Available was called.
	AvailableCallCount int
}

// Generate records the call and returns the configured result.
func (p *Provider) Generate(ctx context.Context, prompt string, model string) (string, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Prompt: prompt, Model: model})
	fn := p.GenerateFunc
	result, err := p.GenerateResult, p.GenerateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, model)
	}
	return result, err
}

// Available records the call and returns AvailableValue.
func (p *Provider) Available(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AvailableCallCount++
	return p.AvailableValue
}

// Name returns NameValue.
func (p *Provider) Name() string {
	return p.NameValue
}
