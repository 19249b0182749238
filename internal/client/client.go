// Package client talks to a running repoloop server over its HTTP API. The
// CLI subcommands other than serve are thin wrappers around it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/publisher"
	"github.com/zjrosen/repoloop/internal/session"
	"github.com/zjrosen/repoloop/internal/session/api"
)

// DefaultTimeout bounds every non-streaming request.
const DefaultTimeout = 30 * time.Second

// ErrServerUnavailable is returned when the server cannot be reached.
var ErrServerUnavailable = errors.New("repoloop server unavailable (is `repoloop serve` running?)")

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for requests. Streams use it too,
// so it should not carry an overall timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client is an HTTP client for the repoloop API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New creates a client for the server at baseURL (for example
// http://localhost:8787).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL: u.String(),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server URL the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /api/status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckAuth calls GET /api/check-auth.
func (c *Client) CheckAuth(ctx context.Context) (publisher.AuthStatus, error) {
	var out publisher.AuthStatus
	err := c.get(ctx, "/api/check-auth", &out)
	return out, err
}

// Prompt returns the server's default prompt template.
func (c *Client) Prompt(ctx context.Context) (string, error) {
	var out api.PromptResponse
	if err := c.get(ctx, "/api/system-prompt", &out); err != nil {
		return "", err
	}
	return out.DefaultPrompt, nil
}

// Run starts a session.
func (c *Client) Run(ctx context.Context, req api.RunRequest) (*api.RunResponse, error) {
	var out api.RunResponse
	if err := c.post(ctx, "/api/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pause pauses id, or the active session when id is empty.
func (c *Client) Pause(ctx context.Context, id session.ID) error {
	return c.control(ctx, "/api/pause", id)
}

// Resume resumes id, or the active session when id is empty.
func (c *Client) Resume(ctx context.Context, id session.ID) error {
	return c.control(ctx, "/api/resume", id)
}

// Abort aborts id, or the active session when id is empty.
func (c *Client) Abort(ctx context.Context, id session.ID) error {
	return c.control(ctx, "/api/abort", id)
}

func (c *Client) control(ctx context.Context, path string, id session.ID) error {
	var out api.SuccessResponse
	return c.post(ctx, path, api.ControlRequest{SessionID: id}, &out)
}

// Results returns the current session, or nil when the server has none.
func (c *Client) Results(ctx context.Context) (*session.Session, error) {
	var out api.ResultsResponse
	if err := c.get(ctx, "/api/results", &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// Export downloads the results document and the filename the server
// suggests for it.
func (c *Client) Export(ctx context.Context) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/results/export", nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read export: %w", err)
	}

	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return body, filename, nil
}

// Sessions lists session summaries, newest first.
func (c *Client) Sessions(ctx context.Context) (*api.SessionsResponse, error) {
	var out api.SessionsResponse
	if err := c.get(ctx, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches one session by ID.
func (c *Client) Session(ctx context.Context, id session.ID) (*session.Session, error) {
	var out api.ResultsResponse
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(id.String()), &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// === Transport helpers ===

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.roundTrip(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.roundTrip(ctx, http.MethodPost, path, in, out)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug(log.CatHTTP, "client request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
