package api

import (
	"encoding/json"
	"time"

	"github.com/zjrosen/repoloop/internal/publisher"
	"github.com/zjrosen/repoloop/internal/session"
)

// RunRequest is the body of POST /api/run. The dashboard form names
// (apiKey, behaviorGoal, systemPrompt, repoPrefix) are accepted as aliases.
type RunRequest struct {
	Credential        string `json:"credential"`
	Model             string `json:"model"`
	Goal              string `json:"goal"`
	ReferenceMaterial string `json:"referenceMaterial"`
	PromptOverride    string `json:"promptOverride"`
	NamePrefix        string `json:"namePrefix"`
	Iterations        int    `json:"iterations"`
}

type runRequestAliases struct {
	APIKey       string `json:"apiKey"`
	BehaviorGoal string `json:"behaviorGoal"`
	SystemPrompt string `json:"systemPrompt"`
	RepoPrefix   string `json:"repoPrefix"`
}

// UnmarshalJSON fills canonical fields from their aliases when absent.
func (r *RunRequest) UnmarshalJSON(data []byte) error {
	type plain RunRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var a runRequestAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RunRequest(p)
	r.Credential = firstNonEmpty(r.Credential, a.APIKey)
	r.Goal = firstNonEmpty(r.Goal, a.BehaviorGoal)
	r.PromptOverride = firstNonEmpty(r.PromptOverride, a.SystemPrompt)
	r.NamePrefix = firstNonEmpty(r.NamePrefix, a.RepoPrefix)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Config converts the request into a session configuration.
func (r RunRequest) Config() session.Config {
	return session.Config{
		Credential:        r.Credential,
		Model:             r.Model,
		Goal:              r.Goal,
		ReferenceMaterial: r.ReferenceMaterial,
		PromptOverride:    r.PromptOverride,
		NamePrefix:        r.NamePrefix,
		Iterations:        r.Iterations,
	}
}

// RunResponse is returned by a successful POST /api/run.
type RunResponse struct {
	Success         bool       `json:"success"`
	SessionID       session.ID `json:"sessionId"`
	TotalIterations int        `json:"totalIterations"`
}

// ControlRequest optionally targets a session for pause/resume/abort.
type ControlRequest struct {
	SessionID session.ID `json:"sessionId,omitempty"`
}

// SuccessResponse acknowledges a command.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string     `json:"status"`
	ActiveSession session.ID `json:"activeSession,omitempty"`
	Subscribers   int        `json:"subscribers"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Auth          publisher.AuthStatus `json:"ghAuth"`
	Session       *session.Session     `json:"session"`
	DefaultPrompt string               `json:"defaultSystemPrompt"`
}

// PromptResponse is returned by GET /api/system-prompt.
type PromptResponse struct {
	DefaultPrompt string `json:"defaultPrompt"`
}

// ResultsResponse carries one session snapshot, or null.
type ResultsResponse struct {
	Session *session.Session `json:"session"`
}

// ExportResponse is the downloadable results document.
type ExportResponse struct {
	ExportDate time.Time        `json:"exportDate"`
	Session    *session.Session `json:"session"`
}

// SessionsResponse lists session summaries, newest first.
type SessionsResponse struct {
	Sessions []session.Summary `json:"sessions"`
	Total    int               `json:"total"`
}

// EventMessage is the data line of every SSE frame.
type EventMessage = session.Event
