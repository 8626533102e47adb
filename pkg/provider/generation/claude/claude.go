// Package claude provides a generation provider that shells out to the
// Claude Code CLI ("claude").
//
// The CLI is invoked per request as
//
//	claude -p <prompt> --output-format json
//
// and the generated text is read from the "result" field of the JSON printed
// on stdout. The subprocess runs under the request context, so a timeout or
// client disconnect kills it rather than leaving orphaned work behind.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MrWong99/fabled/pkg/provider/generation"
)

// DefaultCommand is the executable name looked up on PATH.
const DefaultCommand = "claude"

// Ensure Provider implements the generation.Provider interface.
var _ generation.Provider = (*Provider)(nil)

// Provider implements generation.Provider by running the claude CLI.
// Safe for concurrent use; every Generate call spawns its own process.
type Provider struct {
	command string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithCommand overrides the executable invoked for each request. Useful when
// the CLI is installed outside PATH, and for tests substituting a stub.
func WithCommand(path string) Option {
	return func(p *Provider) {
		p.command = path
	}
}

// New constructs a claude CLI Provider. Installation is not verified here;
// use Available or let the first Generate call fail.
func New(opts ...Option) *Provider {
	p := &Provider{command: DefaultCommand}
	for _, o := range opts {
		o(p)
	}
	return p
}

// cliResult is the JSON document the claude CLI prints with
// --output-format json.
type cliResult struct {
	Type   string `json:"type"`
	Result string `json:"result"`
}

// Generate implements generation.Provider. The model parameter is ignored —
// the claude CLI uses its own configured model.
func (p *Provider) Generate(ctx context.Context, prompt string, _ string) (string, error) {
	cmd := exec.CommandContext(ctx, p.command, "-p", prompt, "--output-format", "json")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Prefer the context error so callers can tell a timeout from a
		// genuine CLI failure.
		if ctx.Err() != nil {
			return "", fmt.Errorf("claude generation: %w", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("claude generation: %s", detail)
	}

	var res cliResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		// Not JSON — return raw output, matching the CLI's plain-text mode.
		return strings.TrimSpace(stdout.String()), nil
	}
	if res.Result == "" {
		return "", fmt.Errorf("claude generation: empty result in CLI output")
	}
	return res.Result, nil
}

// Available implements generation.Provider by checking that the executable
// can be found.
func (p *Provider) Available(_ context.Context) bool {
	_, err := exec.LookPath(p.command)
	return err == nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return "claude"
}
