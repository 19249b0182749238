package presentation

import (
	"time"

	"github.com/zjrosen/repoloop/internal/session"
)

// ResultsDTO is the condensed, machine-readable view of a session printed by
// `results --json`.
type ResultsDTO struct {
	SessionID  string     `json:"sessionId"`
	Status     string     `json:"status"`
	Goal       string     `json:"goal"`
	Model      string     `json:"model"`
	Iterations int        `json:"iterations"`
	Created    int        `json:"created"`
	Errors     int        `json:"errors"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Repos      []RepoDTO  `json:"repos"`
}

// RepoDTO is one iteration's outcome.
type RepoDTO struct {
	Iteration int    `json:"iteration"`
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	Technique string `json:"technique,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// FromSession condenses s. Records are listed in iteration order.
func FromSession(s *session.Session) ResultsDTO {
	dto := ResultsDTO{
		SessionID:  s.ID.String(),
		Status:     string(s.Status),
		Goal:       s.Config.Goal,
		Model:      s.Config.Model,
		Iterations: s.Config.Iterations,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Repos:      make([]RepoDTO, 0, len(s.Records)),
	}
	for _, r := range s.Records {
		repo := RepoDTO{
			Iteration: r.IterationNumber,
			Name:      r.RepoName,
			Technique: r.Technique,
			Status:    string(r.Status),
			Error:     r.Error,
		}
		if r.RepoURL != nil {
			repo.URL = *r.RepoURL
		}
		switch r.Status {
		case session.RecordCreated:
			dto.Created++
		case session.RecordError:
			dto.Errors++
		}
		dto.Repos = append(dto.Repos, repo)
	}
	return dto
}
