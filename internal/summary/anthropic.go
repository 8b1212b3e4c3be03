package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/retry"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	defaultModel     = "claude-haiku-4-5"
	anthropicVersion = "2023-06-01"
)

// Config configures the completion client.
type Config struct {
	APIKey     string
	Endpoint   string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewAnthropicClient validates cfg and applies defaults.
func NewAnthropicClient(cfg Config, logger *slog.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key cannot be empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "summary")),
	}, nil
}

// Complete sends one user message with the given system prompt and returns
// the concatenated text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = c.cfg.MaxRetries
	policy.OnRetry = func(err error, delay time.Duration) {
		c.logger.Warn("Retrying completion request",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("calling Anthropic API: %w", err)
		}
		respBody, err := retry.ReadResponse(resp)
		if err != nil {
			return "", err
		}

		var out anthropicResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return "", retry.Permanent(fmt.Errorf("parsing Anthropic response: %w", err))
		}

		var sb strings.Builder
		for _, block := range out.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			return "", retry.Permanent(fmt.Errorf("empty response from Anthropic API"))
		}
		return text, nil
	})
}
