// Package generator asks a language model for README content and parses the
// structured reply. OpenRouter is the default provider; Gemini is available
// through google.golang.org/genai.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoCredential      = errors.New("API key not configured")
	ErrEmptyResponse     = errors.New("no response from LLM")
	ErrUnknownProvider   = errors.New("unknown generation provider")
	ErrRateLimited       = errors.New("rate limit exceeded (429)")
	ErrMaxRetriesReached = errors.New("max retries exceeded")
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Attempt summarizes an earlier iteration so the model can vary its output.
type Attempt struct {
	Technique string
	Reasoning string
}

// Request is one generation call.
type Request struct {
	Iteration     int
	PriorAttempts []Attempt
}

// Result is the parsed model output.
type Result struct {
	Content      string `json:"readmeContent"`
	Technique    string `json:"technique"`
	Reasoning    string `json:"reasoning"`
	ProjectTheme string `json:"projectTheme"`
}

// Generator produces content for one iteration.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Settings configures a Generator for one session.
type Settings struct {
	Provider          string
	Credential        string
	Model             string
	Goal              string
	ReferenceMaterial string
	PromptOverride    string
	BaseURL           string
	MaxTokens         int
	Timeout           time.Duration
}

// New builds the Generator for s.Provider. prompts supplies the default
// template when s.PromptOverride is empty; nil means the built-in template.
func New(s Settings, prompts PromptSource) (Generator, error) {
	if s.Credential == "" {
		return nil, ErrNoCredential
	}
	builder := NewPromptBuilder(prompts, s.PromptOverride, s.Goal, s.ReferenceMaterial)

	switch s.Provider {
	case "", ProviderOpenRouter:
		return NewOpenRouter(OpenRouterConfig{
			APIKey:    s.Credential,
			BaseURL:   s.BaseURL,
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
			Timeout:   s.Timeout,
		}, builder), nil
	case ProviderGemini:
		return NewGemini(context.Background(), GeminiConfig{
			APIKey:    s.Credential,
			BaseURL:   geminiBaseURL(s.BaseURL),
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
			Timeout:   s.Timeout,
		}, builder)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, s.Provider)
	}
}

// geminiBaseURL ignores the OpenRouter endpoint that generation.base_url
// defaults to, so switching provider alone reaches Gemini.
func geminiBaseURL(u string) string {
	if u == defaultOpenRouterURL || strings.Contains(u, "openrouter.ai") {
		return ""
	}
	return u
}
