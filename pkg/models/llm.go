// Package models contains shared data models used across the promptpoll codebase.
package models

import (
	"context"
	"time"
)

// ChatProvider is the core interface that all LLM integrations must implement.
// Never call specific providers directly — always inject this interface.
type ChatProvider interface {
	// Chat sends role-tagged messages to the given model and returns the
	// reply text plus token usage and latency.
	Chat(ctx context.Context, model string, messages []ChatMessage) (ChatResult, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
}

// ChatMessage is one role-tagged message sent to a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the provider's reply with its usage accounting.
type ChatResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}
