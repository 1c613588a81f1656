package ollama

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

const defaultBaseURL = "http://localhost:11434"

// Provider implements models.ChatProvider against a local Ollama server.
type Provider struct {
	cfg        config.OllamaConfig
	httpClient *http.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "ollama" }

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (p *Provider) Chat(ctx context.Context, model string, messages []models.ChatMessage) (models.ChatResult, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ChatResult{}, fmt.Errorf("ollama status %d: %s", resp.StatusCode, string(raw))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return models.ChatResult{}, fmt.Errorf("decode ollama response: %w", err)
	}

	return models.ChatResult{
		Text:         strings.TrimSpace(cr.Message.Content),
		InputTokens:  cr.PromptEvalCount,
		OutputTokens: cr.EvalCount,
		Latency:      time.Since(start),
	}, nil
}

var _ models.ChatProvider = (*Provider)(nil)
