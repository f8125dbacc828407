// Package llm is a small client for OpenAI-compatible chat completion
// endpoints (OpenRouter by default).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "anyarchie/pkg/logx"
)

// ErrNoAPIKey is returned by Complete when no key is configured.
var ErrNoAPIKey = errors.New("llm: api key not configured")

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultModel     = "anthropic/claude-sonnet-4"
	DefaultMaxTokens = 200
)

type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Component("llm"),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c != nil && c.cfg.APIKey != "" }

// MaxTokens is the configured default completion budget.
func (c *Client) MaxTokens() int { return c.cfg.MaxTokens }

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends messages and returns the first choice's content.
// maxTokens <= 0 uses the configured default.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	if !c.Configured() {
		return "", ErrNoAPIKey
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	body, err := json.Marshal(chatRequest{Model: c.cfg.Model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", "https://anyarchie.app")
	req.Header.Set("X-Title", "AnyArchie")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("llm status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}

	c.log.Debug("chat completion",
		logx.String("model", c.cfg.Model),
		logx.Int("prompt_tokens", out.Usage.PromptTokens),
		logx.Int("completion_tokens", out.Usage.CompletionTokens),
		logx.String("finish_reason", out.Choices[0].FinishReason),
	)
	return out.Choices[0].Message.Content, nil
}
