// Package codex provides a generation provider that shells out to the
// Codex CLI ("codex").
//
// The CLI is invoked per request as
//
//	codex exec <prompt> --json
//
// which streams JSON Lines events on stdout. The agent's answer is carried by
// the "item.completed" event whose item type is "agent_message"; the stream
// is scanned for that event and the message text extracted. The subprocess
// runs under the request context, so a timeout or client disconnect kills it.
package codex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/MrWong99/fabled/pkg/provider/generation"
)

// DefaultCommand is the executable name looked up on PATH.
const DefaultCommand = "codex"

// Ensure Provider implements the generation.Provider interface.
var _ generation.Provider = (*Provider)(nil)

// Provider implements generation.Provider by running the codex CLI.
// Safe for concurrent use; every Generate call spawns its own process.
type Provider struct {
	command string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithCommand overrides the executable invoked for each request.
func WithCommand(path string) Option {
	return func(p *Provider) {
		p.command = path
	}
}

// New constructs a codex CLI Provider.
func New(opts ...Option) *Provider {
	p := &Provider{command: DefaultCommand}
	for _, o := range opts {
		o(p)
	}
	return p
}

// event is one JSON Lines record emitted by codex exec --json. Only the
// fields needed to locate the agent's answer are decoded.
type event struct {
	Type string `json:"type"`
	Item struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"item"`
}

// Generate implements generation.Provider. The model parameter is ignored —
// the codex CLI uses its own configured model.
func (p *Provider) Generate(ctx context.Context, prompt string, _ string) (string, error) {
	cmd := exec.CommandContext(ctx, p.command, "exec", prompt, "--json")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("codex generation: %w", ctx.Err())
		}
		return "", fmt.Errorf("codex generation: %w", err)
	}

	answer, ok := scanForAnswer(&stdout)
	if !ok {
		return "", fmt.Errorf("codex generation: no agent message in CLI output")
	}
	return answer, nil
}

// scanForAnswer walks the JSON Lines stream looking for the completed agent
// message. The last matching event wins, mirroring how the CLI reports a
// revised final answer.
func scanForAnswer(stdout *bytes.Buffer) (string, bool) {
	var (
		answer string
		found  bool
	)
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Interleaved non-JSON noise is skipped.
			continue
		}
		if ev.Type != "item.completed" || ev.Item.Type != "agent_message" {
			continue
		}
		switch {
		case len(ev.Item.Content) > 0 && ev.Item.Content[0].Text != "":
			answer, found = ev.Item.Content[0].Text, true
		case ev.Item.Text != "":
			answer, found = ev.Item.Text, true
		}
	}
	return answer, found
}

// Available implements generation.Provider by checking that the executable
// can be found.
func (p *Provider) Available(_ context.Context) bool {
	_, err := exec.LookPath(p.command)
	return err == nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return "codex"
}
