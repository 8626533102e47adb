// Package ollama provides a generation provider backed by a local Ollama
// server, using github.com/mozilla-ai/any-llm-go's Ollama backend for the
// chat completion call.
//
// Example:
//
//	p, err := ollama.New("", "llama3.2:latest")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	answer, err := p.Generate(ctx, prompt, "")
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	anyllmollama "github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/MrWong99/fabled/pkg/provider/generation"
)

// DefaultBaseURL is the default address of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// availabilityTimeout bounds the reachability probe issued by Available.
const availabilityTimeout = 2 * time.Second

// Ensure Provider implements the generation.Provider interface.
var _ generation.Provider = (*Provider)(nil)

// Provider implements generation.Provider against a local Ollama server.
// Safe for concurrent use.
type Provider struct {
	backend      anyllmlib.Provider
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// New constructs an Ollama generation Provider.
//
// baseURL is the Ollama server address; empty means DefaultBaseURL.
// defaultModel is used when Generate is called with an empty model and must
// not be empty — Ollama has no server-side default.
func New(baseURL string, defaultModel string, opts ...anyllmlib.Option) (*Provider, error) {
	if defaultModel == "" {
		return nil, fmt.Errorf("ollama generation: defaultModel must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	backend, err := anyllmollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama generation: create backend: %w", err)
	}

	return &Provider{
		backend:      backend,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		httpClient:   &http.Client{},
	}, nil
}

// Generate implements generation.Provider by issuing a single-turn chat
// completion against the Ollama server.
func (p *Provider) Generate(ctx context.Context, prompt string, model string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama generation: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama generation: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// Available implements generation.Provider by probing the Ollama server root
// endpoint, which answers 200 whenever the daemon is up.
func (p *Provider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return "ollama"
}
