package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	dir  string
	name string
	args []string
}

func (c call) String() string {
	return c.name + " " + strings.Join(c.args, " ")
}

// fakeExecutor answers commands by prefix match on "name args...".
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []call
	outputs   map[string]string
	errs      map[string]error
	readme    string
	deadlines []bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeExecutor) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := call{dir: dir, name: name, args: args}
	f.calls = append(f.calls, c)
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)

	if dir != "" && f.readme == "" {
		if data, err := os.ReadFile(filepath.Join(dir, readmeFile)); err == nil {
			f.readme = string(data)
		}
	}

	key := c.String()
	for prefix, err := range f.errs {
		if strings.HasPrefix(key, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(key, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

func (f *fakeExecutor) count(prefix string) int {
	n := 0
	for _, c := range f.commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestCheckAuth_Authenticated(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["gh api user"] = "octocat"

	p := NewGHPublisher(Config{}, exec)
	status := p.CheckAuth(context.Background())

	require.True(t, status.Authenticated)
	require.Equal(t, "octocat", status.Identity)
	require.Empty(t, status.Error)
	require.Equal(t, []string{"gh auth status", "gh api user --jq .login"}, exec.commands())
}

func TestCheckAuth_NotLoggedIn(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["gh auth status"] = ErrNotAuthenticated

	p := NewGHPublisher(Config{}, exec)
	status := p.CheckAuth(context.Background())

	require.False(t, status.Authenticated)
	require.Contains(t, status.Error, "gh auth login")
	require.Equal(t, 0, exec.count("gh api"))
}

func TestCheckAuth_MissingBinary(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["gh auth status"] = ErrCommandNotFound

	status := NewGHPublisher(Config{}, exec).CheckAuth(context.Background())

	require.False(t, status.Authenticated)
	require.Equal(t, "gh CLI not installed", status.Error)
}

func TestCheckAuth_CachesOnlySuccess(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["gh auth status"] = ErrNotAuthenticated

	p := NewGHPublisher(Config{AuthCacheTTL: time.Minute}, exec)
	ctx := context.Background()

	require.False(t, p.CheckAuth(ctx).Authenticated)
	require.False(t, p.CheckAuth(ctx).Authenticated)
	require.Equal(t, 2, exec.count("gh auth status"), "failures are checked again")

	exec.mu.Lock()
	delete(exec.errs, "gh auth status")
	exec.outputs["gh api user"] = "octocat"
	exec.mu.Unlock()

	require.True(t, p.CheckAuth(ctx).Authenticated)
	require.True(t, p.CheckAuth(ctx).Authenticated)
	require.Equal(t, 3, exec.count("gh auth status"), "success is cached")

	p.InvalidateAuth(ctx)
	require.True(t, p.CheckAuth(ctx).Authenticated)
	require.Equal(t, 4, exec.count("gh auth status"))
}

func TestCheckAuth_ZeroTTLAlwaysProbes(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["gh api user"] = "octocat"

	p := NewGHPublisher(Config{}, exec)
	p.CheckAuth(context.Background())
	p.CheckAuth(context.Background())

	require.Equal(t, 2, exec.count("gh auth status"))
}

func TestPublish_RunsCommandsInOrder(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["gh repo create"] = "https://github.com/octocat/demo-1-abc123"

	p := NewGHPublisher(Config{Visibility: VisibilityPublic, GitUserName: "bot", GitUserEmail: "bot@example.com"}, exec)
	url, err := p.Publish(context.Background(), "demo-1-abc123", "A CLI tool", "# Demo\n")

	require.NoError(t, err)
	require.Equal(t, "https://github.com/octocat/demo-1-abc123", url)
	require.Equal(t, "# Demo\n", exec.readme)
	require.Equal(t, []string{
		"git init -b main",
		"git config user.email bot@example.com",
		"git config user.name bot",
		"git add README.md",
		"git commit -m Initial commit",
		"gh repo create demo-1-abc123 --public --description A CLI tool --source . --push",
	}, exec.commands())

	for i, ok := range exec.deadlines {
		assert.True(t, ok, "command %d has no timeout", i)
	}
}

func TestPublish_RemovesScratchDir(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["git commit"] = errors.New("git error: nothing to commit")

	p := NewGHPublisher(Config{}, exec)
	_, err := p.Publish(context.Background(), "demo-1-abc123", "d", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "git commit")

	exec.mu.Lock()
	dir := exec.calls[0].dir
	exec.mu.Unlock()
	require.NotEmpty(t, dir)

	_, statErr := os.Stat(dir)
	require.True(t, os.IsNotExist(statErr), "scratch dir %s should be removed", dir)
	require.Equal(t, 0, exec.count("gh repo create"))
}

func TestPublish_DefaultsToPrivate(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["gh repo create"] = "https://github.com/octocat/x"

	_, err := NewGHPublisher(Config{}, exec).Publish(context.Background(), "x", "d", "c")
	require.NoError(t, err)
	require.Equal(t, 1, exec.count("gh repo create x --private"))
}

func TestPublish_FallbackURLFromIdentity(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["gh api user"] = "octocat"

	url, err := NewGHPublisher(Config{}, exec).Publish(context.Background(), "demo-2-zz9999", "d", "c")
	require.NoError(t, err)
	require.Equal(t, "https://github.com/octocat/demo-2-zz9999", url)
}

func TestPublish_RepoExists(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["gh repo create"] = parseCommandError("gh", "GraphQL: Name already exists on this account (createRepository)", errors.New("exit status 1"))

	_, err := NewGHPublisher(Config{}, exec).Publish(context.Background(), "dup", "d", "c")
	require.ErrorIs(t, err, ErrRepoExists)
}

func TestPublish_NotAuthenticatedInvalidatesCache(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["gh api user"] = "octocat"

	p := NewGHPublisher(Config{AuthCacheTTL: time.Minute}, exec)
	ctx := context.Background()
	require.True(t, p.CheckAuth(ctx).Authenticated)

	exec.mu.Lock()
	exec.errs["gh repo create"] = ErrNotAuthenticated
	exec.mu.Unlock()

	_, err := p.Publish(ctx, "x", "d", "c")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	p.CheckAuth(ctx)
	require.Equal(t, 2, exec.count("gh auth status"))
}

func TestParseCommandError(t *testing.T) {
	base := errors.New("exit status 1")

	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"repo exists", "GraphQL: Name already exists on this account (createRepository)", ErrRepoExists},
		{"not logged in", "You are not logged into any GitHub hosts. To log in, run: gh auth login", ErrNotAuthenticated},
		{"other", "fatal: something else", base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseCommandError("gh", tt.stderr, base)
			require.ErrorIs(t, err, tt.want)
			require.Contains(t, err.Error(), tt.stderr)
		})
	}
}

func TestParseRepoURL(t *testing.T) {
	require.Equal(t, "https://github.com/o/r", parseRepoURL("✓ Created repository o/r on GitHub\n  https://github.com/o/r\n"))
	require.Equal(t, "https://github.com/o/r", parseRepoURL("https://github.com/o/r."))
	require.Empty(t, parseRepoURL("done"))
}

func TestValidVisibility(t *testing.T) {
	require.True(t, ValidVisibility("private"))
	require.True(t, ValidVisibility("public"))
	require.True(t, ValidVisibility("internal"))
	require.False(t, ValidVisibility("secret"))
}

func TestExecExecutor_CommandNotFound(t *testing.T) {
	_, err := NewExecExecutor().Run(context.Background(), t.TempDir(), "repoloop-definitely-missing-binary")
	require.ErrorIs(t, err, ErrCommandNotFound)
}
