package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/repoloop/internal/generator"
	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/publisher"
	"github.com/zjrosen/repoloop/internal/tracing"
)

const DefaultPrefix = "repoloop"

// Publisher provisions one remote repository per call.
type Publisher interface {
	CheckAuth(ctx context.Context) publisher.AuthStatus
	Publish(ctx context.Context, name, description, content string) (string, error)
}

// GeneratorFactory configures a generator for one session.
type GeneratorFactory func(cfg Config) (generator.Generator, error)

// Store persists session snapshots. Failures are logged, never fatal.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
}

// ManagerConfig wires the Manager's collaborators.
type ManagerConfig struct {
	Publisher    Publisher
	NewGenerator GeneratorFactory
	Store        Store        // optional
	Bus          *Bus         // optional; a new Bus is created when nil
	Tracer       trace.Tracer // optional

	DefaultModel   string
	DefaultPrefix  string
	IterationDelay time.Duration // 0 means no delay
	MaxIterations  int           // 0 means unlimited
	NameFunc       NameFunc      // optional; RepoName when nil

	// ValidPrefix rejects prefixes that cannot form a repository name.
	// A nil func accepts every prefix.
	ValidPrefix func(string) bool
}

type handle struct {
	session *Session
	signals *Signals
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns every session started in this process and enforces that at
// most one is active (running or paused) at a time.
type Manager struct {
	cfg ManagerConfig
	bus *Bus

	startMu sync.Mutex // serializes Start so the active check and register are atomic

	mu       sync.RWMutex
	sessions map[ID]*handle
	order    []ID
	active   ID
	closed   bool
}

// NewManager creates a Manager. Zero-valued options take their defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = DefaultPrefix
	}
	if cfg.NameFunc == nil {
		cfg.NameFunc = RepoName
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = NewBus()
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		sessions: make(map[ID]*handle),
	}
}

// Bus returns the event bus all sessions publish on.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Start validates cfg, registers a running session and launches its runner.
// It returns as soon as the runner is spawned.
func (m *Manager) Start(ctx context.Context, cfg Config) (*StartResult, error) {
	cfg.Credential = strings.TrimSpace(cfg.Credential)
	cfg.Goal = strings.TrimSpace(cfg.Goal)
	cfg.NamePrefix = strings.TrimSpace(cfg.NamePrefix)
	cfg.Model = strings.TrimSpace(cfg.Model)

	switch {
	case cfg.Credential == "":
		return nil, ErrMissingCredential
	case cfg.Goal == "":
		return nil, ErrMissingGoal
	case cfg.Iterations < 1:
		return nil, ErrInvalidIterations
	case m.cfg.MaxIterations > 0 && cfg.Iterations > m.cfg.MaxIterations:
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyIterations, cfg.Iterations, m.cfg.MaxIterations)
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = m.cfg.DefaultPrefix
	}
	if m.cfg.ValidPrefix != nil && !m.cfg.ValidPrefix(cfg.NamePrefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, cfg.NamePrefix)
	}
	if cfg.Model == "" {
		cfg.Model = m.cfg.DefaultModel
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.RLock()
	closed, active := m.closed, m.active
	m.mu.RUnlock()
	if closed {
		return nil, ErrShuttingDown
	}
	if active != "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, active)
	}

	auth := m.cfg.Publisher.CheckAuth(ctx)
	if !auth.Authenticated {
		if auth.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, auth.Error)
		}
		return nil, ErrNotAuthenticated
	}

	gen, err := m.cfg.NewGenerator(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure generator: %w", err)
	}

	id := NewID()
	sess := newSession(id, cfg, time.Now())
	signals := NewSignals()
	signals.Reset()

	// The runner outlives the request that started it; only Shutdown cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{
		session: sess,
		signals: signals,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = h
	m.order = append(m.order, id)
	m.active = id
	m.mu.Unlock()

	m.persist(runCtx, sess)

	r := &runner{
		session:    sess,
		signals:    signals,
		bus:        m.bus,
		gen:        gen,
		pub:        m.cfg.Publisher,
		store:      m.cfg.Store,
		tracer:     m.cfg.Tracer,
		delay:      m.cfg.IterationDelay,
		name:       m.cfg.NameFunc,
		iterations: cfg.Iterations,
		prefix:     cfg.NamePrefix,
	}

	log.Info(log.CatSession, "session started", "id", id, "iterations", cfg.Iterations, "prefix", cfg.NamePrefix, "model", cfg.Model)

	go func() {
		defer close(h.done)
		defer m.release(id)
		defer cancel()
		r.run(runCtx)
	}()

	return &StartResult{SessionID: id, TotalIterations: cfg.Iterations}, nil
}

func (m *Manager) release(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == id {
		m.active = ""
	}
}

// resolve finds the session a command targets. An empty id means the
// active session.
func (m *Manager) resolve(id ID) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id == "" {
		id = m.active
		if id == "" {
			return nil, ErrNoActiveSession
		}
	}
	h, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !h.session.GetStatus().IsActive() || id != m.active {
		return nil, ErrNoActiveSession
	}
	return h, nil
}

// Pause asks the session to pause before its next iteration.
func (m *Manager) Pause(id ID) error {
	h, err := m.resolve(id)
	if err != nil {
		return err
	}
	h.signals.Pause()
	m.bus.Status(StatusPaused, nil)
	log.Info(log.CatSession, "pause requested", "id", h.session.ID)
	return nil
}

// Resume clears a pause.
func (m *Manager) Resume(id ID) error {
	h, err := m.resolve(id)
	if err != nil {
		return err
	}
	h.signals.Resume()
	m.bus.Status(StatusRunning, nil)
	log.Info(log.CatSession, "resume requested", "id", h.session.ID)
	return nil
}

// Abort stops the session at its next check. In-flight generation or
// publishing is allowed to finish.
func (m *Manager) Abort(id ID) error {
	h, err := m.resolve(id)
	if err != nil {
		return err
	}
	h.signals.Abort()
	m.bus.Status(StatusDone, abortedDetails())
	log.Info(log.CatSession, "abort requested", "id", h.session.ID)
	return nil
}

// Active returns the ID of the active session, if any.
func (m *Manager) Active() (ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != ""
}

// Get returns a snapshot of the session with id.
func (m *Manager) Get(id ID) (*Session, bool) {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return h.session.Snapshot(), true
}

// Current returns the active session, else the most recently started one.
func (m *Manager) Current() (*Session, bool) {
	m.mu.RLock()
	id := m.active
	if id == "" && len(m.order) > 0 {
		id = m.order[len(m.order)-1]
	}
	m.mu.RUnlock()
	if id == "" {
		return nil, false
	}
	return m.Get(id)
}

// List returns snapshots of every session, newest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	ids := slices.Clone(m.order)
	handles := make([]*handle, 0, len(ids))
	for _, id := range ids {
		handles = append(handles, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]*Session, 0, len(handles))
	for i := len(handles) - 1; i >= 0; i-- {
		out = append(out, handles[i].session.Snapshot())
	}
	return out
}

// Wait blocks until the runner for id has finished or ctx ends.
func (m *Manager) Wait(ctx context.Context, id ID) error {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new sessions, aborts active ones, cancels their contexts
// and waits for every runner to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.signals.Abort()
		h.cancel()
	}

	var errs []error
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("session %s did not stop: %w", h.session.ID, ctx.Err()))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info(log.CatSession, "manager shut down", "sessions", len(handles))
	return nil
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	persistSnapshot(ctx, m.cfg.Store, s)
}

func persistSnapshot(ctx context.Context, store Store, s *Session) {
	if store == nil {
		return
	}
	snap := s.Snapshot()
	// Saving must survive shutdown cancelling the session context.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := store.SaveSession(saveCtx, snap); err != nil {
		log.ErrorErr(log.CatDB, "failed to persist session", err, "id", snap.ID)
	}
}
