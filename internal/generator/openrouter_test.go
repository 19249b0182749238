package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	})
	return string(body)
}

func newTestOpenRouter(url string) *OpenRouter {
	return NewOpenRouter(OpenRouterConfig{
		APIKey:  "sk-test",
		BaseURL: url,
		Model:   "test/model",
		Backoff: time.Millisecond,
	}, NewPromptBuilder(nil, "", "tide tables", ""))
}

func TestOpenRouter_Generate(t *testing.T) {
	var captured openRouterRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "repoloop", r.Header.Get("X-Title"))
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_, _ = w.Write([]byte(completion(`{"readmeContent":"# Tide","technique":"tutorial","reasoning":"r","projectTheme":"tides"}`)))
	}))
	defer server.Close()

	g := newTestOpenRouter(server.URL)
	got, err := g.Generate(context.Background(), Request{
		Iteration:     2,
		PriorAttempts: []Attempt{{Technique: "faq", Reasoning: "q&a"}},
	})
	require.NoError(t, err)
	require.Equal(t, "# Tide", got.Content)
	require.Equal(t, "tides", got.ProjectTheme)

	require.Equal(t, "test/model", captured.Model)
	require.Equal(t, 4096, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	require.Equal(t, "system", captured.Messages[0].Role)
	require.Contains(t, captured.Messages[0].Content, "tide tables")
	require.Contains(t, captured.Messages[0].Content, "- Technique: faq | q&a")
	require.Contains(t, captured.Messages[1].Content, "README #2")
}

func TestOpenRouter_NoCredential(t *testing.T) {
	g := NewOpenRouter(OpenRouterConfig{}, NewPromptBuilder(nil, "", "g", ""))
	_, err := g.Generate(context.Background(), Request{Iteration: 1})
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestOpenRouter_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	_, err := newTestOpenRouter(server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
	require.Contains(t, err.Error(), "bad key")
}

func TestOpenRouter_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(completion("plain text reply")))
	}))
	defer server.Close()

	got, err := newTestOpenRouter(server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "plain text reply", got.Content)
	require.Equal(t, RawTechnique, got.Technique)
}

func TestOpenRouter_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestOpenRouter(server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.ErrorIs(t, err, ErrMaxRetriesReached)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, int32(4), calls.Load())
}

func TestOpenRouter_EmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestOpenRouter(server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestNew_Factory(t *testing.T) {
	_, err := New(Settings{Provider: ProviderOpenRouter}, nil)
	require.ErrorIs(t, err, ErrNoCredential)

	_, err = New(Settings{Provider: "mystery", Credential: "k"}, nil)
	require.ErrorIs(t, err, ErrUnknownProvider)

	g, err := New(Settings{Credential: "k", Goal: "g"}, StaticPrompt("custom {{GOAL}}"))
	require.NoError(t, err)
	or, ok := g.(*OpenRouter)
	require.True(t, ok)
	require.Equal(t, defaultOpenRouterModel, or.cfg.Model)
	require.Equal(t, "custom g", or.prompts.System(nil))

	g, err = New(Settings{Provider: ProviderGemini, Credential: "k", Model: "x-ai/grok-4-fast"}, nil)
	require.NoError(t, err)
	gem, ok := g.(*Gemini)
	require.True(t, ok)
	require.Equal(t, defaultGeminiModel, gem.Model())
}
