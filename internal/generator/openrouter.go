package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zjrosen/repoloop/internal/log"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "x-ai/grok-4-fast"
	maxResponseBytes       = 10 * 1024 * 1024
)

// OpenRouterConfig configures an OpenRouter client.
type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int           // retries for 429 and transport errors; default 3
	Backoff    time.Duration // first retry delay, doubled each attempt; default 1s
	SiteURL    string
	SiteName   string
}

// OpenRouter is a Generator backed by the OpenRouter chat completions API.
type OpenRouter struct {
	cfg        OpenRouterConfig
	prompts    PromptBuilder
	httpClient *http.Client
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
	Messages  []openRouterMessage `json:"messages"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenRouter creates an OpenRouter generator.
func NewOpenRouter(cfg OpenRouterConfig, prompts PromptBuilder) *OpenRouter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenRouterModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "http://localhost:3001"
	}
	if cfg.SiteName == "" {
		cfg.SiteName = "repoloop"
	}
	return &OpenRouter{
		cfg:        cfg,
		prompts:    prompts,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate implements Generator.
func (c *OpenRouter) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoCredential
	}

	start := time.Now()
	body := openRouterRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openRouterMessage{
			{Role: "system", Content: c.prompts.System(req.PriorAttempts)},
			{Role: "user", Content: c.prompts.User(req.Iteration)},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	log.Debug(log.CatGen, "openrouter request", "model", c.cfg.Model, "iteration", req.Iteration, "prior", len(req.PriorAttempts))

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.Backoff << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		text, retry, err := c.do(ctx, payload)
		if err == nil {
			log.Debug(log.CatGen, "openrouter response", "elapsed", time.Since(start), "length", len(text))
			return ParseResult(text), nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		log.Warn(log.CatGen, "openrouter retrying", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("%w: %w", ErrMaxRetriesReached, lastErr)
}

// do performs one HTTP round trip. retry reports whether the failure is
// worth another attempt.
func (c *OpenRouter) do(ctx context.Context, payload []byte) (text string, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	httpReq.Header.Set("X-Title", c.cfg.SiteName)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false, fmt.Errorf("OpenRouter API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("OpenRouter API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", false, ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, false, nil
}
