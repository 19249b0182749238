package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/zjrosen/repoloop/internal/log"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	APIKey    string
	BaseURL   string // empty means the public Gemini endpoint
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Gemini is a Generator backed by Google's Gemini API.
type Gemini struct {
	client  *genai.Client
	cfg     GeminiConfig
	prompts PromptBuilder
}

// NewGemini creates a Gemini generator. No request is made until Generate.
func NewGemini(ctx context.Context, cfg GeminiConfig, prompts PromptBuilder) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoCredential
	}
	if cfg.Model == "" || strings.Contains(cfg.Model, "/") {
		// OpenRouter style "vendor/model" names are not Gemini model IDs.
		cfg.Model = defaultGeminiModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{client: client, cfg: cfg, prompts: prompts}, nil
}

// Model returns the Gemini model in use.
func (g *Gemini) Model() string {
	return g.cfg.Model
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx,
		g.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(g.prompts.User(req.Iteration), genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.prompts.System(req.PriorAttempts), genai.RoleUser),
			MaxOutputTokens:   int32(g.cfg.MaxTokens), //nolint:gosec // bounded by config validation
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	log.Debug(log.CatGen, "gemini response", "model", g.cfg.Model, "elapsed", time.Since(start), "length", len(text))
	return ParseResult(text), nil
}
