// Package llm resolves model-target provider names to concrete chat adapters.
package llm

import (
	"fmt"

	"github.com/rahulkarwa/promptpoll/internal/config"
	"github.com/rahulkarwa/promptpoll/internal/llm/anthropic"
	"github.com/rahulkarwa/promptpoll/internal/llm/ollama"
	"github.com/rahulkarwa/promptpoll/internal/llm/openai"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// Registry maps provider identifiers to constructed adapters. Adapters are
// built once at startup and shared across workers; they are safe for
// concurrent use.
type Registry struct {
	providers map[string]models.ChatProvider
}

// NewRegistry constructs adapters for every provider the config describes.
// A provider with no credentials is still registered; authentication errors
// surface at call time as job failures, not at startup.
func NewRegistry(cfg config.LLMConfig) *Registry {
	return &Registry{
		providers: map[string]models.ChatProvider{
			"openai":    openai.NewProvider(cfg.OpenAI, cfg.RequestTimeout),
			"anthropic": anthropic.NewProvider(cfg.Anthropic, cfg.RequestTimeout),
			"ollama":    ollama.NewProvider(cfg.Ollama, cfg.RequestTimeout),
		},
	}
}

// Resolve returns the adapter for the given provider identifier.
func (r *Registry) Resolve(provider string) (models.ChatProvider, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q: must be one of openai, anthropic, ollama", provider)
	}
	return p, nil
}

// Register adds or replaces a provider adapter. Used by tests to inject mocks.
func (r *Registry) Register(name string, p models.ChatProvider) {
	r.providers[name] = p
}
