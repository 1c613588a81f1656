package mock

import (
	"context"
	"time"

	"github.com/rahulkarwa/promptpoll/internal/llm"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// MockProvider satisfies models.ChatProvider for testing.
type MockProvider struct {
	Name_    string
	ChatFunc func(ctx context.Context, model string, messages []models.ChatMessage) (models.ChatResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Chat(ctx context.Context, model string, messages []models.ChatMessage) (models.ChatResult, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, model, messages)
	}
	return models.ChatResult{}, nil
}

// NewMockProvider returns a MockProvider that replies with a fixed JSON
// answer, so repair and persistence paths see a well-formed response.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ChatFunc: func(_ context.Context, _ string, _ []models.ChatMessage) (models.ChatResult, error) {
			return models.ChatResult{
				Text:         `{"answer": "Mock answer for testing"}`,
				InputTokens:  120,
				OutputTokens: 40,
				Latency:      5 * time.Millisecond,
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ChatFunc: func(_ context.Context, _ string, _ []models.ChatMessage) (models.ChatResult, error) {
			return models.ChatResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ChatFunc: func(ctx context.Context, _ string, _ []models.ChatMessage) (models.ChatResult, error) {
			<-ctx.Done()
			return models.ChatResult{}, llm.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements ChatProvider.
var _ models.ChatProvider = (*MockProvider)(nil)
