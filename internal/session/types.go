// Package session runs generate-and-publish sessions. A Manager owns the
// registry of sessions, enforces that at most one is active, and drives each
// one through its iterations on a background runner that reports progress on
// a Bus and honours pause, resume and abort through per-session Signals.
package session

import (
	"time"

	"github.com/google/uuid"
)

// ID uniquely identifies a session.
type ID string

// NewID generates a new unique ID using UUID v4.
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// IsValid returns true if the ID is a valid UUID.
func (id ID) IsValid() bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(string(id))
	return err == nil
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// IsActive reports whether the session still occupies the active slot.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// RecordStatus is the lifecycle state of one iteration record.
// Valid transitions:
//
//	pending    -> generating
//	generating -> creating, error
//	creating   -> created, error
//	created    -> (terminal)
//	error      -> (terminal)
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordGenerating RecordStatus = "generating"
	RecordCreating   RecordStatus = "creating"
	RecordCreated    RecordStatus = "created"
	RecordError      RecordStatus = "error"
)

var recordTransitions = map[RecordStatus]map[RecordStatus]bool{
	RecordPending: {
		RecordGenerating: true,
	},
	RecordGenerating: {
		RecordCreating: true,
		RecordError:    true,
	},
	RecordCreating: {
		RecordCreated: true,
		RecordError:   true,
	},
	RecordCreated: {},
	RecordError:   {},
}

// IsValid returns true if this is a recognized RecordStatus.
func (s RecordStatus) IsValid() bool {
	_, ok := recordTransitions[s]
	return ok
}

// IsTerminal returns true for created and error.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordCreated || s == RecordError
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s RecordStatus) CanTransitionTo(target RecordStatus) bool {
	return recordTransitions[s][target]
}

// RedactedCredential replaces the credential in stored snapshots.
const RedactedCredential = "***"

// DefaultDescription is used when a generation carries no usable theme.
const DefaultDescription = "Generated project"

// Config is the caller-supplied configuration for one session.
type Config struct {
	Credential        string `json:"credential"`
	Model             string `json:"model"`
	Goal              string `json:"goal"`
	ReferenceMaterial string `json:"referenceMaterial,omitempty"`
	PromptOverride    string `json:"promptOverride,omitempty"`
	NamePrefix        string `json:"namePrefix"`
	Iterations        int    `json:"iterations"`
}

// Redacted returns a copy of c safe to store or display.
func (c Config) Redacted() Config {
	c.Credential = RedactedCredential
	return c
}

// Record is the state and outcome of one iteration.
type Record struct {
	ID              string       `json:"id"`
	IterationNumber int          `json:"iterationNumber"`
	RepoName        string       `json:"repoName"`
	Content         string       `json:"content"`
	Technique       string       `json:"technique"`
	Reasoning       string       `json:"reasoning"`
	Theme           string       `json:"theme,omitempty"`
	RepoURL         *string      `json:"repoUrl"`
	Status          RecordStatus `json:"status"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       *time.Time   `json:"createdAt,omitempty"`
}

func (r Record) clone() Record {
	if r.RepoURL != nil {
		url := *r.RepoURL
		r.RepoURL = &url
	}
	if r.CreatedAt != nil {
		at := *r.CreatedAt
		r.CreatedAt = &at
	}
	return r
}

// StartResult is returned by Manager.Start.
type StartResult struct {
	SessionID       ID  `json:"sessionId"`
	TotalIterations int `json:"totalIterations"`
}

// Summary is a compact view of a session for listings.
type Summary struct {
	ID         ID         `json:"id"`
	Status     Status     `json:"status"`
	Goal       string     `json:"goal"`
	Model      string     `json:"model"`
	NamePrefix string     `json:"namePrefix"`
	Iterations int        `json:"iterations"`
	Created    int        `json:"created"`
	Errors     int        `json:"errors"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
}
