package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zjrosen/repoloop/internal/generator"
	"github.com/zjrosen/repoloop/internal/publisher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// === Mock Publisher ===

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) CheckAuth(ctx context.Context) publisher.AuthStatus {
	args := m.Called(ctx)
	return args.Get(0).(publisher.AuthStatus)
}

func (m *mockPublisher) Publish(ctx context.Context, name, description, content string) (string, error) {
	args := m.Called(ctx, name, description, content)
	return args.String(0), args.Error(1)
}

func authenticated() publisher.AuthStatus {
	return publisher.AuthStatus{Authenticated: true, Identity: "octocat"}
}

// === Fake Generator ===

type fakeGenerator struct {
	mu       sync.Mutex
	requests []generator.Request
	fn       func(ctx context.Context, req generator.Request) (*generator.Result, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.fn != nil {
		return g.fn(ctx, req)
	}
	return succeed(req.Iteration), nil
}

func (g *fakeGenerator) seen() []generator.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]generator.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

func succeed(i int) *generator.Result {
	return &generator.Result{
		Content:      fmt.Sprintf("# Project %d\n", i),
		Technique:    fmt.Sprintf("technique-%d", i),
		Reasoning:    "because",
		ProjectTheme: fmt.Sprintf("theme %d", i),
	}
}

// === Fake Store ===

type fakeStore struct {
	mu    sync.Mutex
	saves []*Session
}

func (s *fakeStore) SaveSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, sess)
	return nil
}

func (s *fakeStore) last() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

// === Harness ===

type harness struct {
	m      *Manager
	pub    *mockPublisher
	gen    *fakeGenerator
	store  *fakeStore
	events <-chan Event
}

func testName(prefix string, i int) string {
	return formatRepoName(prefix, i, "test00")
}

func newHarness(t *testing.T, opts ...func(*ManagerConfig)) *harness {
	t.Helper()

	h := &harness{
		pub:   &mockPublisher{},
		gen:   &fakeGenerator{},
		store: &fakeStore{},
	}
	cfg := ManagerConfig{
		Publisher:    h.pub,
		NewGenerator: func(Config) (generator.Generator, error) { return h.gen, nil },
		Store:        h.store,
		Bus:          NewBusWithBuffer(1024),
		DefaultModel: "test-model",
		NameFunc:     testName,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.m = NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.events = h.m.Bus().Subscribe(ctx)

	t.Cleanup(func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		require.NoError(t, h.m.Shutdown(shutdownCtx))
		cancel()
		h.m.Bus().Close()
	})
	return h
}

func validConfig(iterations int) Config {
	return Config{Credential: "k", Goal: "g", NamePrefix: "t", Iterations: iterations}
}

func (h *harness) startAndWait(t *testing.T, cfg Config) *Session {
	t.Helper()
	res, err := h.m.Start(context.Background(), cfg)
	require.NoError(t, err)
	return h.wait(t, res.SessionID)
}

func (h *harness) wait(t *testing.T, id ID) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.m.Wait(ctx, id))
	snap, ok := h.m.Get(id)
	require.True(t, ok)
	return snap
}

// drain returns every event currently buffered.
func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, string(ev.Type))
	}
	return out
}

func lastStatus(t *testing.T, events []Event) map[string]any {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventStatusUpdate {
			return events[i].Payload.(map[string]any)
		}
	}
	require.Fail(t, "no status event")
	return nil
}

func completion(t *testing.T, events []Event) SessionCompletePayload {
	t.Helper()
	var found []SessionCompletePayload
	for _, ev := range events {
		if ev.Type == EventSessionComplete {
			found = append(found, ev.Payload.(SessionCompletePayload))
		}
	}
	require.Len(t, found, 1, "exactly one session_complete")
	return found[0]
}

func recordStatuses(s *Session) []RecordStatus {
	out := make([]RecordStatus, 0, len(s.Records))
	for _, r := range s.Records {
		out = append(out, r.Status)
	}
	return out
}

// === Scenarios ===

func TestManager_AllIterationsSucceed(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, "t-1-test00", "theme 1", "# Project 1\n").Return("https://github.com/octocat/t-1-test00", nil).Once()
	h.pub.On("Publish", mock.Anything, "t-2-test00", "theme 2", "# Project 2\n").Return("https://github.com/octocat/t-2-test00", nil).Once()

	snap := h.startAndWait(t, validConfig(2))
	events := h.drain()

	require.Equal(t, StatusDone, snap.Status)
	require.NotNil(t, snap.EndTime)
	require.Equal(t, []RecordStatus{RecordCreated, RecordCreated}, recordStatuses(snap))
	require.Equal(t, "https://github.com/octocat/t-2-test00", *snap.Records[1].RepoURL)

	done := completion(t, events)
	require.Equal(t, 2, done.TotalCreated)
	require.Equal(t, 0, done.TotalErrors)

	url1 := "https://github.com/octocat/t-1-test00"
	url2 := "https://github.com/octocat/t-2-test00"
	want := []RepoSummary{
		{Name: "t-1-test00", URL: &url1, Technique: "technique-1", Status: RecordCreated},
		{Name: "t-2-test00", URL: &url2, Technique: "technique-2", Status: RecordCreated},
	}
	if diff := cmp.Diff(want, done.Repos); diff != "" {
		t.Errorf("repos mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, map[string]any{"status": StatusDone}, lastStatus(t, events))
	h.pub.AssertExpectations(t)
}

func TestManager_EventOrderPerIteration(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	h.startAndWait(t, validConfig(1))

	var structural []string
	for _, typ := range eventTypes(h.drain()) {
		if typ != string(EventLog) {
			structural = append(structural, typ)
		}
	}
	require.Equal(t, []string{
		string(EventStatusUpdate),
		string(EventGenerationStart),
		string(EventGenerationComplete),
		string(EventRepoCreating),
		string(EventRepoCreated),
		string(EventSessionComplete),
		string(EventStatusUpdate),
	}, structural)
}

func TestManager_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, "t-1-test00", mock.Anything, mock.Anything).Return("https://github.com/octocat/t-1-test00", nil).Once()
	h.pub.On("Publish", mock.Anything, "t-2-test00", mock.Anything, mock.Anything).Return("", errors.New("gh repo create t-2-test00: boom")).Once()

	snap := h.startAndWait(t, validConfig(2))
	events := h.drain()

	require.Equal(t, StatusDone, snap.Status)
	require.Equal(t, []RecordStatus{RecordCreated, RecordError}, recordStatuses(snap))
	require.Equal(t, "gh repo create t-2-test00: boom", snap.Records[1].Error)
	require.Nil(t, snap.Records[1].RepoURL)

	done := completion(t, events)
	require.Equal(t, 1, done.TotalCreated)
	require.Equal(t, 1, done.TotalErrors)

	var repoErr *RepoErrorPayload
	for _, ev := range events {
		if p, ok := ev.Payload.(RepoErrorPayload); ok {
			repoErr = &p
		}
	}
	require.NotNil(t, repoErr)
	require.Equal(t, 2, repoErr.Iteration)
}

func TestManager_GenerationFailureSkipsPublish(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, "t-2-test00", mock.Anything, mock.Anything).Return("https://github.com/o/t-2-test00", nil).Once()
	h.gen.fn = func(_ context.Context, req generator.Request) (*generator.Result, error) {
		if req.Iteration == 1 {
			return nil, generator.ErrEmptyResponse
		}
		return succeed(req.Iteration), nil
	}

	snap := h.startAndWait(t, validConfig(2))

	require.Equal(t, []RecordStatus{RecordError, RecordCreated}, recordStatuses(snap))
	require.Equal(t, generator.ErrEmptyResponse.Error(), snap.Records[0].Error)
	h.pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestManager_NilResultCountsAsEmptyResponse(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.gen.fn = func(context.Context, generator.Request) (*generator.Result, error) { return nil, nil }

	snap := h.startAndWait(t, validConfig(1))

	require.Equal(t, []RecordStatus{RecordError}, recordStatuses(snap))
	require.Equal(t, generator.ErrEmptyResponse.Error(), snap.Records[0].Error)
}

func TestManager_PriorAttemptsFedBack(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	h.startAndWait(t, validConfig(3))

	reqs := h.gen.seen()
	require.Len(t, reqs, 3)
	require.Empty(t, reqs[0].PriorAttempts)
	require.Equal(t, []generator.Attempt{
		{Technique: "technique-1", Reasoning: "because"},
		{Technique: "technique-2", Reasoning: "because"},
	}, reqs[2].PriorAttempts)
}

func TestManager_UnknownThemeUsesDefaultDescription(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, "t-1-test00", DefaultDescription, mock.Anything).Return("https://github.com/o/r", nil).Once()
	h.gen.fn = func(context.Context, generator.Request) (*generator.Result, error) {
		return &generator.Result{Content: "x", Technique: generator.RawTechnique, ProjectTheme: generator.UnknownTheme}, nil
	}

	h.startAndWait(t, validConfig(1))
	h.pub.AssertExpectations(t)
}

func TestManager_AbortDuringDelay(t *testing.T) {
	h := newHarness(t, func(c *ManagerConfig) { c.IterationDelay = time.Hour })
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	res, err := h.m.Start(context.Background(), validConfig(2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := h.m.Get(res.SessionID)
		return len(snap.Records) == 1 && snap.Records[0].Status == RecordCreated
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.m.Abort(res.SessionID))
	snap := h.wait(t, res.SessionID)
	events := h.drain()

	require.Len(t, snap.Records, 1, "iteration 2 never starts")
	require.Len(t, h.gen.seen(), 1)
	require.Equal(t, StatusDone, snap.Status)
	require.Equal(t, "aborted", lastStatus(t, events)["reason"])
	require.Equal(t, 1, completion(t, events).TotalCreated)

	_, active := h.m.Active()
	require.False(t, active)
}

func TestManager_AbortDuringPause(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)
	h.gen.fn = func(_ context.Context, req generator.Request) (*generator.Result, error) {
		if req.Iteration == 1 {
			<-release
		}
		return succeed(req.Iteration), nil
	}

	res, err := h.m.Start(context.Background(), validConfig(3))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.gen.seen()) == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, h.m.Pause(res.SessionID))
	close(release)

	require.Eventually(t, func() bool {
		snap, _ := h.m.Get(res.SessionID)
		return snap.Status == StatusPaused
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, h.m.Abort(""))
	snap := h.wait(t, res.SessionID)
	events := h.drain()

	require.Len(t, snap.Records, 1)
	require.Equal(t, RecordCreated, snap.Records[0].Status, "in-flight iteration completes")
	require.Equal(t, StatusDone, snap.Status)
	require.Equal(t, "aborted", lastStatus(t, events)["reason"])

	var pausedAt any
	for _, ev := range events {
		if p, ok := ev.Payload.(map[string]any); ok && p["status"] == StatusPaused && p["currentIteration"] != nil {
			pausedAt = p["currentIteration"]
		}
	}
	require.Equal(t, 2, pausedAt)
}

func TestManager_PauseResumeNeverDuplicates(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)
	h.gen.fn = func(_ context.Context, req generator.Request) (*generator.Result, error) {
		if req.Iteration == 1 {
			<-release
		}
		return succeed(req.Iteration), nil
	}

	res, err := h.m.Start(context.Background(), validConfig(3))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.gen.seen()) == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, h.m.Pause(""))
	close(release)

	require.Eventually(t, func() bool {
		snap, _ := h.m.Get(res.SessionID)
		return snap.Status == StatusPaused
	}, 5*time.Second, time.Millisecond)
	require.Len(t, h.gen.seen(), 1, "no generation while paused")

	require.NoError(t, h.m.Resume(""))
	snap := h.wait(t, res.SessionID)

	require.Len(t, snap.Records, 3)
	for i, rec := range snap.Records {
		require.Equal(t, i+1, rec.IterationNumber)
		require.Equal(t, RecordCreated, rec.Status)
	}
	require.Len(t, h.gen.seen(), 3)
}

func TestManager_PauseResumeDuringDelayKeepsDelay(t *testing.T) {
	const delay = 500 * time.Millisecond
	h := newHarness(t, func(c *ManagerConfig) { c.IterationDelay = delay })
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())

	var mu sync.Mutex
	var published time.Time
	var started []time.Time
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			if published.IsZero() {
				published = time.Now()
			}
			mu.Unlock()
		}).
		Return("https://github.com/o/r", nil)
	h.gen.fn = func(_ context.Context, req generator.Request) (*generator.Result, error) {
		mu.Lock()
		started = append(started, time.Now())
		mu.Unlock()
		return succeed(req.Iteration), nil
	}

	res, err := h.m.Start(context.Background(), validConfig(2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := h.m.Get(res.SessionID)
		return len(snap.Records) == 1 && snap.Records[0].Status == RecordCreated
	}, 5*time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.m.Pause(""))
	require.Eventually(t, func() bool {
		snap, _ := h.m.Get(res.SessionID)
		return snap.Status == StatusPaused
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, h.m.Resume(""))

	snap := h.wait(t, res.SessionID)
	require.Equal(t, []RecordStatus{RecordCreated, RecordCreated}, recordStatuses(snap))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, 2)
	require.GreaterOrEqual(t, started[1].Sub(published), delay,
		"iteration 2 must not start before the delay elapses")

	var pausedAt any
	for _, ev := range h.drain() {
		if p, ok := ev.Payload.(map[string]any); ok && p["status"] == StatusPaused && p["currentIteration"] != nil {
			pausedAt = p["currentIteration"]
		}
	}
	require.Equal(t, 2, pausedAt)
}

func TestManager_FreshSessionIgnoresPreviousAbort(t *testing.T) {
	h := newHarness(t, func(c *ManagerConfig) { c.IterationDelay = time.Hour })
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	first, err := h.m.Start(context.Background(), validConfig(2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.gen.seen()) == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, h.m.Abort(first.SessionID))
	h.wait(t, first.SessionID)

	snap := h.startAndWait(t, validConfig(1))

	require.Equal(t, StatusDone, snap.Status)
	require.Equal(t, []RecordStatus{RecordCreated}, recordStatuses(snap))
}

func TestManager_RejectsConcurrentStart(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)
	h.gen.fn = func(_ context.Context, req generator.Request) (*generator.Result, error) {
		<-release
		return succeed(req.Iteration), nil
	}

	first, err := h.m.Start(context.Background(), validConfig(1))
	require.NoError(t, err)

	_, err = h.m.Start(context.Background(), validConfig(1))
	require.ErrorIs(t, err, ErrSessionActive)

	close(release)
	h.wait(t, first.SessionID)

	second, err := h.m.Start(context.Background(), validConfig(1))
	require.NoError(t, err)
	h.wait(t, second.SessionID)
	require.Len(t, h.m.List(), 2)
	require.Equal(t, second.SessionID, h.m.List()[0].ID, "newest first")
}

func TestManager_StartValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		max  int
		want error
	}{
		{"missing credential", Config{Goal: "g", Iterations: 1}, 0, ErrMissingCredential},
		{"blank credential", Config{Credential: "  ", Goal: "g", Iterations: 1}, 0, ErrMissingCredential},
		{"credential checked before goal", Config{Iterations: 0}, 0, ErrMissingCredential},
		{"missing goal", Config{Credential: "k", Iterations: 1}, 0, ErrMissingGoal},
		{"zero iterations", Config{Credential: "k", Goal: "g"}, 0, ErrInvalidIterations},
		{"negative iterations", Config{Credential: "k", Goal: "g", Iterations: -2}, 0, ErrInvalidIterations},
		{"over maximum", Config{Credential: "k", Goal: "g", Iterations: 11}, 10, ErrTooManyIterations},
		{"bad prefix", Config{Credential: "k", Goal: "g", Iterations: 1, NamePrefix: "bad prefix"}, 0, ErrInvalidPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *ManagerConfig) {
				c.MaxIterations = tt.max
				c.ValidPrefix = func(p string) bool { return !strings.Contains(p, " ") }
			})

			res, err := h.m.Start(context.Background(), tt.cfg)
			require.ErrorIs(t, err, tt.want)
			require.True(t, IsValidation(err))
			require.Nil(t, res)
			require.Empty(t, h.m.List())
			h.pub.AssertNotCalled(t, "CheckAuth", mock.Anything)
		})
	}
}

func TestManager_StartRequiresAuth(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(publisher.AuthStatus{Error: "gh CLI not installed"})

	_, err := h.m.Start(context.Background(), validConfig(1))
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Contains(t, err.Error(), "gh CLI not installed")
	require.False(t, IsValidation(err))
	require.Empty(t, h.m.List())
}

func TestManager_GeneratorFactoryError(t *testing.T) {
	h := newHarness(t, func(c *ManagerConfig) {
		c.NewGenerator = func(Config) (generator.Generator, error) { return nil, generator.ErrUnknownProvider }
	})
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())

	_, err := h.m.Start(context.Background(), validConfig(1))
	require.ErrorIs(t, err, generator.ErrUnknownProvider)
	_, active := h.m.Active()
	require.False(t, active)
}

func TestManager_DefaultsAndRedaction(t *testing.T) {
	var factoryCfg Config
	h := newHarness(t, func(c *ManagerConfig) {
		c.NewGenerator = func(cfg Config) (generator.Generator, error) {
			factoryCfg = cfg
			return &fakeGenerator{}, nil
		}
	})
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, "repoloop-1-test00", mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	snap := h.startAndWait(t, Config{Credential: " sk-secret ", Goal: "g", Iterations: 1})

	require.Equal(t, "sk-secret", factoryCfg.Credential, "generator gets the real credential")
	require.Equal(t, RedactedCredential, snap.Config.Credential)
	require.Equal(t, DefaultPrefix, snap.Config.NamePrefix)
	require.Equal(t, "test-model", snap.Config.Model)

	saved := h.store.last()
	require.NotNil(t, saved)
	require.Equal(t, RedactedCredential, saved.Config.Credential)
	require.Equal(t, StatusDone, saved.Status)
}

func TestManager_CommandsWithoutActiveSession(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.m.Pause(""), ErrNoActiveSession)
	require.ErrorIs(t, h.m.Resume(""), ErrNoActiveSession)
	require.ErrorIs(t, h.m.Abort(""), ErrNoActiveSession)
	require.ErrorIs(t, h.m.Abort(NewID()), ErrSessionNotFound)

	_, ok := h.m.Current()
	require.False(t, ok)
}

func TestManager_CommandsOnFinishedSession(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	snap := h.startAndWait(t, validConfig(1))

	require.ErrorIs(t, h.m.Pause(snap.ID), ErrNoActiveSession)
	current, ok := h.m.Current()
	require.True(t, ok)
	require.Equal(t, snap.ID, current.ID)
}

func TestManager_RunnerPanicMarksError(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.gen.fn = func(context.Context, generator.Request) (*generator.Result, error) {
		panic("provider exploded")
	}

	snap := h.startAndWait(t, validConfig(2))
	events := h.drain()

	require.Equal(t, StatusError, snap.Status)
	require.NotNil(t, snap.EndTime)
	require.Equal(t, StatusError, lastStatus(t, events)["status"])
	require.Contains(t, eventTypes(events), string(EventError))

	_, active := h.m.Active()
	require.False(t, active)
}

func TestManager_ShutdownCancelsInFlight(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.gen.fn = func(ctx context.Context, _ generator.Request) (*generator.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	res, err := h.m.Start(context.Background(), validConfig(5))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.gen.seen()) == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.m.Shutdown(ctx))

	snap, _ := h.m.Get(res.SessionID)
	require.Equal(t, StatusDone, snap.Status)
	require.Len(t, snap.Records, 1)
	require.Equal(t, RecordError, snap.Records[0].Status)

	_, err = h.m.Start(context.Background(), validConfig(1))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_StartOutlivesRequestContext(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://github.com/o/r", nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	res, err := h.m.Start(reqCtx, validConfig(2))
	require.NoError(t, err)
	cancel()

	snap := h.wait(t, res.SessionID)
	require.Equal(t, []RecordStatus{RecordCreated, RecordCreated}, recordStatuses(snap))
}

func TestSession_SnapshotIsDeepCopy(t *testing.T) {
	s := newSession(NewID(), validConfig(1), fixedNow)
	idx := s.beginRecord(1, "t-1-x")
	url := "https://github.com/o/r"
	require.NoError(t, s.transition(idx, RecordCreating, nil))
	require.NoError(t, s.transition(idx, RecordCreated, func(r *Record) { r.RepoURL = &url }))

	snap := s.Snapshot()
	*snap.Records[0].RepoURL = "mutated"
	snap.Records[0].Technique = "mutated"

	again := s.Snapshot()
	if diff := cmp.Diff(again, s.Snapshot(), cmpopts.IgnoreUnexported(Session{})); diff != "" {
		t.Fatalf("snapshots differ: %s", diff)
	}
	require.Equal(t, url, *again.Records[0].RepoURL)
	require.Empty(t, again.Records[0].Technique)
}

func TestSession_SummaryCounts(t *testing.T) {
	s := newSession(NewID(), validConfig(3), fixedNow)
	a := s.beginRecord(1, "a")
	b := s.beginRecord(2, "b")
	s.beginRecord(3, "c")
	require.NoError(t, s.transition(a, RecordCreating, nil))
	require.NoError(t, s.transition(a, RecordCreated, nil))
	require.NoError(t, s.transition(b, RecordError, nil))

	sum := s.Summary()
	require.Equal(t, 1, sum.Created)
	require.Equal(t, 1, sum.Errors)
	require.Equal(t, "t", sum.NamePrefix)
	require.Equal(t, 2, s.CurrentIteration)
}

func TestManager_RunnerPanicClosesOpenRecord(t *testing.T) {
	h := newHarness(t)
	h.pub.On("CheckAuth", mock.Anything).Return(authenticated())
	h.gen.fn = func(context.Context, generator.Request) (*generator.Result, error) {
		panic("provider exploded")
	}

	snap := h.startAndWait(t, validConfig(1))

	require.Equal(t, []RecordStatus{RecordError}, recordStatuses(snap))
	require.Equal(t, "panic: provider exploded", snap.Records[0].Error)
}
