package testutil

import (
	"fmt"
	"time"

	"github.com/zjrosen/repoloop/internal/session"
)

// BaseTime anchors every fixture timestamp so comparisons stay deterministic.
var BaseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Owner is the account fixture repository URLs belong to.
const Owner = "octocat"

// Builder accumulates a session and its records.
type Builder struct {
	session *session.Session
}

// NewBuilder creates a builder for a running session with sensible defaults.
func NewBuilder(opts ...SessionOption) *Builder {
	s := defaultSession()
	for _, opt := range opts {
		opt(s)
	}
	return &Builder{session: s}
}

// WithRecord adds the record for a 1-based iteration.
func (b *Builder) WithRecord(iteration int, opts ...RecordOption) *Builder {
	rec := defaultRecord(b.session, iteration)
	for _, opt := range opts {
		opt(&rec)
	}
	b.session.Records = append(b.session.Records, rec)
	return b
}

// WithOutcomes adds one record per entry: created when true, failed otherwise.
// Iterations continue after any records already added.
func (b *Builder) WithOutcomes(outcomes ...bool) *Builder {
	next := len(b.session.Records) + 1
	for i, ok := range outcomes {
		if ok {
			b.WithRecord(next+i, Created())
		} else {
			b.WithRecord(next+i, Failed("gh repo create: name already exists"))
		}
	}
	return b
}

// Build returns a deep copy, so one builder can seed several tests.
func (b *Builder) Build() *session.Session {
	return b.session.Snapshot()
}

func defaultSession() *session.Session {
	return &session.Session{
		ID:     session.NewID(),
		Status: session.StatusRunning,
		Config: session.Config{
			Credential: session.RedactedCredential,
			Model:      "x-ai/grok-4-fast",
			Goal:       "describe a CLI tool",
			NamePrefix: "demo",
			Iterations: 2,
		},
		Records:   []session.Record{},
		StartTime: BaseTime,
	}
}

// defaultRecord is a generated-but-unpublished record. Its ID embeds the
// session ID because record IDs are unique across sessions.
func defaultRecord(s *session.Session, iteration int) session.Record {
	return session.Record{
		ID:              fmt.Sprintf("%s-rec-%d", s.ID, iteration),
		IterationNumber: iteration,
		RepoName:        fmt.Sprintf("%s-%d-abc123", s.Config.NamePrefix, iteration),
		Content:         "# Demo\n",
		Technique:       "badges",
		Reasoning:       "short",
		Theme:           "CLI tool",
		Status:          session.RecordPending,
	}
}
