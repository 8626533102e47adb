// Package gemini provides a generation provider that shells out to the
// Gemini CLI ("gemini").
//
// The CLI is invoked per request as
//
//	gemini -p <prompt> -o json --model <model>
//
// and the generated text is read from the "response" field of the JSON
// printed on stdout. The subprocess runs under the request context, so a
// timeout or client disconnect kills it.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MrWong99/fabled/pkg/provider/generation"
)

const (
	// DefaultCommand is the executable name looked up on PATH.
	DefaultCommand = "gemini"

	// DefaultModel is passed to --model when Generate gets an empty model.
	DefaultModel = "pro"
)

// Ensure Provider implements the generation.Provider interface.
var _ generation.Provider = (*Provider)(nil)

// Provider implements generation.Provider by running the gemini CLI.
// Safe for concurrent use; every Generate call spawns its own process.
type Provider struct {
	command      string
	defaultModel string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithCommand overrides the executable invoked for each request.
func WithCommand(path string) Option {
	return func(p *Provider) {
		p.command = path
	}
}

// WithDefaultModel overrides the model used when Generate is called with an
// empty model.
func WithDefaultModel(model string) Option {
	return func(p *Provider) {
		p.defaultModel = model
	}
}

// New constructs a gemini CLI Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		command:      DefaultCommand,
		defaultModel: DefaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// cliResult is the JSON document the gemini CLI prints with -o json.
type cliResult struct {
	Response string `json:"response"`
}

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, model string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	cmd := exec.CommandContext(ctx, p.command, "-p", prompt, "-o", "json", "--model", model)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// The gemini CLI writes progress noise to stderr; it is discarded, and
	// failures are reported via the exit code.

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("gemini generation: %w", ctx.Err())
		}
		return "", fmt.Errorf("gemini generation: %w", err)
	}

	var res cliResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return strings.TrimSpace(stdout.String()), nil
	}
	if res.Response == "" {
		return "", fmt.Errorf("gemini generation: empty response in CLI output")
	}
	return res.Response, nil
}

// Available implements generation.Provider by checking that the executable
// can be found.
func (p *Provider) Available(_ context.Context) bool {
	_, err := exec.LookPath(p.command)
	return err == nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return "gemini"
}
