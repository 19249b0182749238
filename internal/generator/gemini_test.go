package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func geminiReply(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
		}},
	})
	return string(body)
}

func newTestGemini(t *testing.T, url string) *Gemini {
	t.Helper()
	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:  "gk-test",
		BaseURL: url,
		Model:   "gemini-test",
	}, NewPromptBuilder(nil, "", "tide tables", ""))
	require.NoError(t, err)
	return g
}

func TestGemini_Generate(t *testing.T) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}
	var captured struct {
		SystemInstruction content   `json:"systemInstruction"`
		Contents          []content `json:"contents"`
		GenerationConfig  struct {
			MaxOutputTokens  int    `json:"maxOutputTokens"`
			ResponseMIMEType string `json:"responseMimeType"`
		} `json:"generationConfig"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		assert.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiReply(`{"readmeContent":"# Tide","technique":"tutorial","reasoning":"r","projectTheme":"tides"}`)))
	}))
	defer server.Close()

	got, err := newTestGemini(t, server.URL).Generate(context.Background(), Request{
		Iteration:     2,
		PriorAttempts: []Attempt{{Technique: "faq", Reasoning: "q&a"}},
	})
	require.NoError(t, err)
	require.Equal(t, "# Tide", got.Content)
	require.Equal(t, "tutorial", got.Technique)
	require.Equal(t, "r", got.Reasoning)
	require.Equal(t, "tides", got.ProjectTheme)

	require.Len(t, captured.SystemInstruction.Parts, 1)
	require.Contains(t, captured.SystemInstruction.Parts[0].Text, "tide tables")
	require.Contains(t, captured.SystemInstruction.Parts[0].Text, "- Technique: faq | q&a")
	require.Len(t, captured.Contents, 1)
	require.Equal(t, "user", captured.Contents[0].Role)
	require.Contains(t, captured.Contents[0].Parts[0].Text, "README #2")
	require.Equal(t, "application/json", captured.GenerationConfig.ResponseMIMEType)
	require.Equal(t, 4096, captured.GenerationConfig.MaxOutputTokens)
}

func TestGemini_UnstructuredReplyFallsBackToRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiReply("# Just markdown")))
	}))
	defer server.Close()

	got, err := newTestGemini(t, server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.NoError(t, err)
	require.Equal(t, "# Just markdown", got.Content)
	require.Equal(t, RawTechnique, got.Technique)
	require.Equal(t, UnknownTheme, got.ProjectTheme)
}

func TestGemini_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := newTestGemini(t, server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGemini_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	_, err := newTestGemini(t, server.URL).Generate(context.Background(), Request{Iteration: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Gemini API error")

	var apiErr genai.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Code)
	require.Equal(t, "API key not valid", apiErr.Message)
}

func TestGeminiBaseURL(t *testing.T) {
	require.Empty(t, geminiBaseURL(defaultOpenRouterURL))
	require.Empty(t, geminiBaseURL("https://openrouter.ai/api/v1/"))
	require.Equal(t, "http://127.0.0.1:9000", geminiBaseURL("http://127.0.0.1:9000"))
	require.Empty(t, geminiBaseURL(""))
}
