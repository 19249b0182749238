package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrRepoExists indicates the remote already has a repository with that name.
	ErrRepoExists = errors.New("repository already exists")

	// ErrNotAuthenticated indicates gh has no logged-in account.
	ErrNotAuthenticated = errors.New("gh CLI not authenticated")

	// ErrCommandNotFound indicates git or gh is not on PATH.
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandTimeout indicates a command exceeded its deadline.
	ErrCommandTimeout = errors.New("command timed out")
)

// Executor runs external commands. Implementations return trimmed stdout.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecExecutor runs commands through os/exec.
type ExecExecutor struct{}

// NewExecExecutor creates an ExecExecutor.
func NewExecExecutor() *ExecExecutor {
	return &ExecExecutor{}
}

// Run executes name with args in dir and returns stdout.
func (e *ExecExecutor) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	//nolint:gosec // G204: args are built by the publisher, never from raw user input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrCommandNotFound, name)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s %s", ErrCommandTimeout, name, strings.Join(args, " "))
		}
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseCommandError(name, stderrStr, err)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// parseCommandError converts git/gh stderr messages to specific error types.
func parseCommandError(name, stderr string, originalErr error) error {
	stderrLower := strings.ToLower(stderr)

	// gh repo create: GraphQL: Name already exists on this account (createRepository)
	if strings.Contains(stderrLower, "name already exists") ||
		strings.Contains(stderrLower, "already exists on this account") {
		return fmt.Errorf("%w: %s", ErrRepoExists, stderr)
	}

	// gh auth status: You are not logged into any GitHub hosts.
	if strings.Contains(stderrLower, "not logged into") ||
		strings.Contains(stderrLower, "gh auth login") ||
		strings.Contains(stderrLower, "authentication required") {
		return fmt.Errorf("%w: %s", ErrNotAuthenticated, stderr)
	}

	return fmt.Errorf("%s error: %s: %w", name, stderr, originalErr)
}
