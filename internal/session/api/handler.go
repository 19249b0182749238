// Package api exposes the session manager over HTTP: JSON commands under
// /api and a server-sent event stream of session progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/repoloop/internal/generator"
	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/publisher"
	"github.com/zjrosen/repoloop/internal/session"
)

const (
	maxBodyBytes     = 10 << 20
	defaultHeartbeat = 30 * time.Second
	historyLimit     = 100
)

// Sessions is the slice of the session manager the API drives.
type Sessions interface {
	Start(ctx context.Context, cfg session.Config) (*session.StartResult, error)
	Pause(id session.ID) error
	Resume(id session.ID) error
	Abort(id session.ID) error
	Active() (session.ID, bool)
	Current() (*session.Session, bool)
	Get(id session.ID) (*session.Session, bool)
	List() []*session.Session
	Bus() *session.Bus
}

// History reads persisted sessions. It is optional.
type History interface {
	GetSession(ctx context.Context, id session.ID) (*session.Session, error)
	LatestSession(ctx context.Context) (*session.Session, error)
	ListSessions(ctx context.Context, limit int) ([]session.Summary, error)
}

// AuthChecker reports publisher readiness.
type AuthChecker interface {
	CheckAuth(ctx context.Context) publisher.AuthStatus
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	Sessions Sessions    // required
	Auth     AuthChecker // required
	History  History     // optional
	Prompts  generator.PromptSource
	Tracer   trace.Tracer

	Heartbeat   time.Duration
	CORSOrigins []string
	Now         func() time.Time
}

// Handler provides the HTTP endpoints.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a handler. Missing optional fields take defaults.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.Prompts == nil {
		cfg.Prompts = generator.StaticPrompt(generator.DefaultPrompt)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{cfg: cfg}
}

// Routes returns the chi router with every route and middleware registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(CORS(h.cfg.CORSOrigins))
	r.Use(RequestID)
	r.Use(AccessLog)
	r.Use(Recovery)
	r.Use(Tracing(h.cfg.Tracer))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/check-auth", h.CheckAuth)
		r.Get("/system-prompt", h.SystemPrompt)

		r.Post("/run", h.Run)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/abort", h.Abort)

		r.Get("/results", h.Results)
		r.Get("/results/export", h.Export)

		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)

		r.Get("/events", h.Events)
	})

	return r
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Subscribers: h.cfg.Sessions.Bus().SubscriberCount()}
	if id, ok := h.cfg.Sessions.Active(); ok {
		resp.ActiveSession = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status combines auth, the current session and the default prompt.
// GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Auth:          h.cfg.Auth.CheckAuth(r.Context()),
		Session:       h.currentSession(r.Context()),
		DefaultPrompt: h.cfg.Prompts.Prompt(),
	})
}

// CheckAuth reports whether the publisher is ready.
// GET /api/check-auth
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Auth.CheckAuth(r.Context()))
}

// SystemPrompt returns the default prompt template.
// GET /api/system-prompt
func (h *Handler) SystemPrompt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PromptResponse{DefaultPrompt: h.cfg.Prompts.Prompt()})
}

// Run starts a session.
// POST /api/run
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body: "+err.Error())
		return
	}

	res, err := h.cfg.Sessions.Start(r.Context(), req.Config())
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		Success:         true,
		SessionID:       res.SessionID,
		TotalIterations: res.TotalIterations,
	})
}

// Pause pauses the active (or named) session.
// POST /api/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.cfg.Sessions.Pause)
}

// Resume resumes the active (or named) session.
// POST /api/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.cfg.Sessions.Resume)
}

// Abort aborts the active (or named) session.
// POST /api/abort
func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.cfg.Sessions.Abort)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, fn func(session.ID) error) {
	var req ControlRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body: "+err.Error())
		return
	}
	if err := fn(req.SessionID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Results returns the current session, else the latest persisted one.
// GET /api/results
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ResultsResponse{Session: h.currentSession(r.Context())})
}

// Export returns the current results as a download.
// GET /api/results/export
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	now := h.cfg.Now()
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", ExportFilename(now)))
	writeJSON(w, http.StatusOK, ExportResponse{
		ExportDate: now.UTC(),
		Session:    h.currentSession(r.Context()),
	})
}

// ExportFilename names an export taken at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("repoloop-results-%d.json", t.UnixMilli())
}

// ListSessions lists session summaries, newest first.
// GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := h.mergedSummaries(r.Context())
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: summaries, Total: len(summaries)})
}

// GetSession returns one session by ID.
// GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := session.ID(chi.URLParam(r, "id"))
	if !id.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid session id")
		return
	}

	if s, ok := h.cfg.Sessions.Get(id); ok {
		writeJSON(w, http.StatusOK, ResultsResponse{Session: s})
		return
	}
	if h.cfg.History != nil {
		s, err := h.cfg.History.GetSession(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, ResultsResponse{Session: s})
			return
		}
		log.Debug(log.CatHTTP, "history lookup failed", "id", id, "error", err)
	}
	writeError(w, http.StatusNotFound, "not_found", "session not found")
}

// currentSession prefers the in-memory session and falls back to history.
func (h *Handler) currentSession(ctx context.Context) *session.Session {
	if s, ok := h.cfg.Sessions.Current(); ok {
		return s
	}
	if h.cfg.History == nil {
		return nil
	}
	s, err := h.cfg.History.LatestSession(ctx)
	if err != nil {
		log.Debug(log.CatHTTP, "no persisted session", "error", err)
		return nil
	}
	return s
}

// mergedSummaries lists in-memory sessions first, then persisted ones not
// already present.
func (h *Handler) mergedSummaries(ctx context.Context) []session.Summary {
	out := []session.Summary{}
	seen := make(map[session.ID]bool)
	for _, s := range h.cfg.Sessions.List() {
		out = append(out, s.Summary())
		seen[s.ID] = true
	}
	if h.cfg.History == nil {
		return out
	}
	stored, err := h.cfg.History.ListSessions(ctx, historyLimit)
	if err != nil {
		log.ErrorErr(log.CatHTTP, "list stored sessions failed", err)
		return out
	}
	for _, sum := range stored {
		if !seen[sum.ID] {
			out = append(out, sum)
		}
	}
	return out
}

// === Helpers ===

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatHTTP, "failed to encode JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message, Code: code})
}

// writeSessionError maps manager errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case session.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, http.StatusBadRequest, "not_authenticated", err.Error())
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, "session_active", err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no_active_session", err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case errors.Is(err, generator.ErrUnknownProvider), errors.Is(err, generator.ErrNoCredential):
		writeError(w, http.StatusBadGateway, "generator_unavailable", err.Error())
	default:
		log.ErrorErr(log.CatHTTP, "unhandled session error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
