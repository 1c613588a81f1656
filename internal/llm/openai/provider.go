package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rahulkarwa/promptpoll/internal/config"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements models.ChatProvider against the OpenAI chat
// completions endpoint.
type Provider struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "openai" }

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *Provider) Chat(ctx context.Context, model string, messages []models.ChatMessage) (models.ChatResult, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("marshal openai request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.ChatResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ChatResult{}, fmt.Errorf("openai status %d: %s", resp.StatusCode, string(raw))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return models.ChatResult{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return models.ChatResult{}, fmt.Errorf("no choices in openai response")
	}

	return models.ChatResult{
		Text:         strings.TrimSpace(cr.Choices[0].Message.Content),
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}, nil
}

var _ models.ChatProvider = (*Provider)(nil)
