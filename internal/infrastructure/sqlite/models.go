package sqlite

import (
	"time"

	"github.com/zjrosen/repoloop/internal/session"
)

// sessionModel is a row of the sessions table. Times are Unix milliseconds.
type sessionModel struct {
	ID                string
	Status            string
	Model             string
	Goal              string
	ReferenceMaterial string
	PromptOverride    string
	NamePrefix        string
	Iterations        int
	CurrentIteration  int
	StartedAt         int64
	EndedAt           *int64 // nullable
	UpdatedAt         int64
}

// recordModel is a row of the records table.
type recordModel struct {
	ID              string
	SessionID       string
	IterationNumber int
	RepoName        string
	Content         string
	Technique       string
	Reasoning       string
	Theme           string
	RepoURL         *string // nullable
	Status          string
	Error           string
	CreatedAt       *int64 // nullable
}

// toSessionModel converts a snapshot into rows. The credential is never stored.
func toSessionModel(s *session.Session, now time.Time) (*sessionModel, []recordModel) {
	m := &sessionModel{
		ID:                s.ID.String(),
		Status:            string(s.Status),
		Model:             s.Config.Model,
		Goal:              s.Config.Goal,
		ReferenceMaterial: s.Config.ReferenceMaterial,
		PromptOverride:    s.Config.PromptOverride,
		NamePrefix:        s.Config.NamePrefix,
		Iterations:        s.Config.Iterations,
		CurrentIteration:  s.CurrentIteration,
		StartedAt:         s.StartTime.UnixMilli(),
		EndedAt:           timeToMillis(s.EndTime),
		UpdatedAt:         now.UnixMilli(),
	}

	records := make([]recordModel, 0, len(s.Records))
	for _, r := range s.Records {
		records = append(records, recordModel{
			ID:              r.ID,
			SessionID:       m.ID,
			IterationNumber: r.IterationNumber,
			RepoName:        r.RepoName,
			Content:         r.Content,
			Technique:       r.Technique,
			Reasoning:       r.Reasoning,
			Theme:           r.Theme,
			RepoURL:         r.RepoURL,
			Status:          string(r.Status),
			Error:           r.Error,
			CreatedAt:       timeToMillis(r.CreatedAt),
		})
	}
	return m, records
}

// toSession rebuilds a snapshot from rows.
func toSession(m *sessionModel, records []recordModel) *session.Session {
	s := &session.Session{
		ID:     session.ID(m.ID),
		Status: session.Status(m.Status),
		Config: session.Config{
			Credential:        session.RedactedCredential,
			Model:             m.Model,
			Goal:              m.Goal,
			ReferenceMaterial: m.ReferenceMaterial,
			PromptOverride:    m.PromptOverride,
			NamePrefix:        m.NamePrefix,
			Iterations:        m.Iterations,
		},
		Records:          make([]session.Record, 0, len(records)),
		CurrentIteration: m.CurrentIteration,
		StartTime:        time.UnixMilli(m.StartedAt),
		EndTime:          millisToTime(m.EndedAt),
	}
	for _, r := range records {
		s.Records = append(s.Records, session.Record{
			ID:              r.ID,
			IterationNumber: r.IterationNumber,
			RepoName:        r.RepoName,
			Content:         r.Content,
			Technique:       r.Technique,
			Reasoning:       r.Reasoning,
			Theme:           r.Theme,
			RepoURL:         r.RepoURL,
			Status:          session.RecordStatus(r.Status),
			Error:           r.Error,
			CreatedAt:       millisToTime(r.CreatedAt),
		})
	}
	return s
}

func timeToMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func millisToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.UnixMilli(*v)
	return &t
}
