// Package publisher turns generated content into a remote repository using
// the git and gh command-line tools.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/repoloop/internal/cachemanager"
	"github.com/zjrosen/repoloop/internal/log"
)

const (
	VisibilityPrivate  = "private"
	VisibilityPublic   = "public"
	VisibilityInternal = "internal"

	DefaultCommandTimeout = 60 * time.Second
	DefaultGitUserName    = "repoloop"
	DefaultGitUserEmail   = "repoloop@users.noreply.github.com"

	readmeFile    = "README.md"
	commitMessage = "Initial commit"
	authCacheKey  = "gh-auth"
)

// AuthStatus is the result of probing gh for a logged-in account.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Config controls how repositories are created.
type Config struct {
	Visibility     string
	CommandTimeout time.Duration
	AuthCacheTTL   time.Duration
	GitUserName    string
	GitUserEmail   string
	GHBinary       string
	GitBinary      string
}

// GHPublisher publishes README-only repositories through gh.
type GHPublisher struct {
	cfg  Config
	exec Executor
	auth *cachemanager.ReadThroughCache[string, AuthStatus]
}

// NewGHPublisher creates a publisher. A nil executor uses os/exec.
func NewGHPublisher(cfg Config, executor Executor) *GHPublisher {
	if executor == nil {
		executor = NewExecExecutor()
	}
	if cfg.Visibility == "" {
		cfg.Visibility = VisibilityPrivate
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.GitUserName == "" {
		cfg.GitUserName = DefaultGitUserName
	}
	if cfg.GitUserEmail == "" {
		cfg.GitUserEmail = DefaultGitUserEmail
	}
	if cfg.GHBinary == "" {
		cfg.GHBinary = "gh"
	}
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}

	p := &GHPublisher{cfg: cfg, exec: executor}
	cache := cachemanager.NewInMemoryCacheManager[string, AuthStatus]("gh-auth", cfg.AuthCacheTTL, cachemanager.DefaultCleanupInterval)
	p.auth = cachemanager.NewReadThroughCache[string, AuthStatus](
		cache,
		func(ctx context.Context) (AuthStatus, error) { return p.queryAuth(ctx), nil },
		func(s AuthStatus) bool { return s.Authenticated },
		cfg.AuthCacheTTL,
	)
	return p
}

// ValidVisibility reports whether v is accepted by gh repo create.
func ValidVisibility(v string) bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityInternal:
		return true
	}
	return false
}

// CheckAuth reports whether gh is logged in and as whom. Only successful
// checks are cached, so a later login is noticed on the next call.
func (p *GHPublisher) CheckAuth(ctx context.Context) AuthStatus {
	status, _ := p.auth.Get(ctx, authCacheKey)
	return status
}

// InvalidateAuth drops the cached auth result.
func (p *GHPublisher) InvalidateAuth(ctx context.Context) {
	p.auth.Invalidate(ctx, authCacheKey)
}

func (p *GHPublisher) queryAuth(ctx context.Context) AuthStatus {
	if _, err := p.run(ctx, "", p.cfg.GHBinary, "auth", "status"); err != nil {
		log.Warn(log.CatPublish, "gh auth status failed", "error", err)
		return AuthStatus{Error: authErrorText(err)}
	}

	login, err := p.run(ctx, "", p.cfg.GHBinary, "api", "user", "--jq", ".login")
	if err != nil {
		log.Warn(log.CatPublish, "gh api user failed", "error", err)
		return AuthStatus{Error: authErrorText(err)}
	}

	log.Debug(log.CatPublish, "gh authenticated", "identity", login)
	return AuthStatus{Authenticated: true, Identity: login}
}

func authErrorText(err error) string {
	switch {
	case errors.Is(err, ErrCommandNotFound):
		return "gh CLI not installed"
	case errors.Is(err, ErrNotAuthenticated):
		return "gh CLI not authenticated. Run: gh auth login"
	default:
		return err.Error()
	}
}

// Publish creates a repository named name containing a single README.md and
// returns its URL. The scratch directory is removed on every path.
func (p *GHPublisher) Publish(ctx context.Context, name, description, content string) (string, error) {
	dir, err := os.MkdirTemp("", "repoloop-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn(log.CatPublish, "failed to remove scratch dir", "dir", dir, "error", rmErr)
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, readmeFile), []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", readmeFile, err)
	}

	steps := [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", p.cfg.GitUserEmail},
		{"config", "user.name", p.cfg.GitUserName},
		{"add", readmeFile},
		{"commit", "-m", commitMessage},
	}
	for _, args := range steps {
		if _, err := p.run(ctx, dir, p.cfg.GitBinary, args...); err != nil {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
	}

	out, err := p.run(ctx, dir, p.cfg.GHBinary, "repo", "create", name,
		"--"+p.cfg.Visibility,
		"--description", description,
		"--source", ".",
		"--push",
	)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			p.InvalidateAuth(ctx)
		}
		return "", fmt.Errorf("gh repo create %s: %w", name, err)
	}

	if url := parseRepoURL(out); url != "" {
		return url, nil
	}

	identity := p.CheckAuth(ctx).Identity
	if identity == "" {
		return "", fmt.Errorf("gh repo create %s: could not determine repository URL", name)
	}
	return fmt.Sprintf("https://github.com/%s/%s", identity, name), nil
}

func (p *GHPublisher) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CommandTimeout)
	defer cancel()
	return p.exec.Run(ctx, dir, name, args...)
}

// parseRepoURL picks the first https URL out of gh's output.
func parseRepoURL(out string) string {
	for _, field := range strings.Fields(out) {
		if strings.HasPrefix(field, "https://") {
			return strings.TrimRight(field, ".,")
		}
	}
	return ""
}
