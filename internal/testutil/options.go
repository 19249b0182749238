package testutil

import (
	"time"

	"github.com/zjrosen/repoloop/internal/session"
)

// SessionOption configures a session during builder setup.
type SessionOption func(*session.Session)

// ID sets the session ID.
func ID(id session.ID) SessionOption {
	return func(s *session.Session) { s.ID = id }
}

// Status sets the session status.
func Status(status session.Status) SessionOption {
	return func(s *session.Session) { s.Status = status }
}

// Goal sets the configured goal.
func Goal(goal string) SessionOption {
	return func(s *session.Session) { s.Config.Goal = goal }
}

// Model sets the configured model.
func Model(model string) SessionOption {
	return func(s *session.Session) { s.Config.Model = model }
}

// NamePrefix sets the repository name prefix. Records added afterwards use it.
func NamePrefix(prefix string) SessionOption {
	return func(s *session.Session) { s.Config.NamePrefix = prefix }
}

// Iterations sets the planned iteration count.
func Iterations(n int) SessionOption {
	return func(s *session.Session) { s.Config.Iterations = n }
}

// Credential sets the stored credential. Sessions normally only hold the
// redacted placeholder, so this exists to prove it never leaks.
func Credential(c string) SessionOption {
	return func(s *session.Session) { s.Config.Credential = c }
}

// CurrentIteration sets the 0-based index of the iteration in progress.
func CurrentIteration(n int) SessionOption {
	return func(s *session.Session) { s.CurrentIteration = n }
}

// StartedAt sets the start time.
func StartedAt(t time.Time) SessionOption {
	return func(s *session.Session) { s.StartTime = t }
}

// EndedAt sets the end time.
func EndedAt(t time.Time) SessionOption {
	return func(s *session.Session) { s.EndTime = &t }
}

// RecordOption configures a record during builder setup.
type RecordOption func(*session.Record)

// Created marks the record published with a URL derived from its name and a
// creation time one minute per iteration after BaseTime.
func Created() RecordOption {
	return func(r *session.Record) {
		url := "https://github.com/" + Owner + "/" + r.RepoName
		at := BaseTime.Add(time.Duration(r.IterationNumber) * time.Minute)
		r.Status = session.RecordCreated
		r.RepoURL = &url
		r.CreatedAt = &at
	}
}

// Failed marks the record errored with msg.
func Failed(msg string) RecordOption {
	return func(r *session.Record) {
		r.Status = session.RecordError
		r.Error = msg
	}
}

// RecordStatus sets the record status without touching other fields.
func RecordStatus(status session.RecordStatus) RecordOption {
	return func(r *session.Record) { r.Status = status }
}

// RepoName sets the repository name. Apply it before Created so the URL follows.
func RepoName(name string) RecordOption {
	return func(r *session.Record) { r.RepoName = name }
}

// RepoURL overrides the repository URL.
func RepoURL(url string) RecordOption {
	return func(r *session.Record) { r.RepoURL = &url }
}

// Content sets the generated README.
func Content(content string) RecordOption {
	return func(r *session.Record) { r.Content = content }
}

// Technique sets the technique label.
func Technique(technique string) RecordOption {
	return func(r *session.Record) { r.Technique = technique }
}

// Theme sets the project theme.
func Theme(theme string) RecordOption {
	return func(r *session.Record) { r.Theme = theme }
}
