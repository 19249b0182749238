package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one end-to-end run. Only its runner mutates it; everyone else
// reads deep copies from Snapshot.
type Session struct {
	mu sync.Mutex

	ID               ID         `json:"id"`
	Config           Config     `json:"config"`
	Status           Status     `json:"status"`
	Records          []Record   `json:"records"`
	CurrentIteration int        `json:"currentIteration"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
}

// newSession registers cfg with its credential already redacted.
func newSession(id ID, cfg Config, now time.Time) *Session {
	return &Session{
		ID:        id,
		Config:    cfg.Redacted(),
		Status:    StatusRunning,
		Records:   []Record{},
		StartTime: now,
	}
}

// Snapshot returns a deep copy safe to read without synchronization.
func (s *Session) Snapshot() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &Session{
		ID:               s.ID,
		Config:           s.Config,
		Status:           s.Status,
		Records:          make([]Record, len(s.Records)),
		CurrentIteration: s.CurrentIteration,
		StartTime:        s.StartTime,
	}
	for i, r := range s.Records {
		cp.Records[i] = r.clone()
	}
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	return cp
}

// Summary condenses the session for listings.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, errs := s.countsLocked()
	sum := Summary{
		ID:         s.ID,
		Status:     s.Status,
		Goal:       s.Config.Goal,
		Model:      s.Config.Model,
		NamePrefix: s.Config.NamePrefix,
		Iterations: s.Config.Iterations,
		Created:    created,
		Errors:     errs,
		StartTime:  s.StartTime,
	}
	if s.EndTime != nil {
		end := *s.EndTime
		sum.EndTime = &end
	}
	return sum
}

// GetStatus returns the current status.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// beginRecord appends a record for iteration (1-based) and moves it to
// generating. It returns the record's index.
func (s *Session) beginRecord(iteration int, repoName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CurrentIteration = iteration - 1
	s.Records = append(s.Records, Record{
		ID:              uuid.New().String(),
		IterationNumber: iteration,
		RepoName:        repoName,
		Status:          RecordPending,
	})
	idx := len(s.Records) - 1
	s.Records[idx].Status = RecordGenerating
	return idx
}

// transition moves record idx to target, applying fn under the lock.
func (s *Session) transition(idx int, target RecordStatus, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.Records) {
		return fmt.Errorf("record index %d out of range", idx)
	}
	rec := &s.Records[idx]
	if !rec.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid record transition %s -> %s", rec.Status, target)
	}
	rec.Status = target
	if fn != nil {
		fn(rec)
	}
	return nil
}

// update applies fn to record idx without changing its status.
func (s *Session) update(idx int, fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx >= 0 && idx < len(s.Records) {
		status := s.Records[idx].Status
		fn(&s.Records[idx])
		s.Records[idx].Status = status
	}
}

// Attempt is a finished prior iteration fed back to the generator.
type Attempt struct {
	Technique string
	Reasoning string
	Content   string
}

// history returns prior records that reached created or error.
func (s *Session) history() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Attempt
	for _, r := range s.Records {
		if r.Status == RecordCreated || r.Status == RecordError {
			out = append(out, Attempt{Technique: r.Technique, Reasoning: r.Reasoning, Content: r.Content})
		}
	}
	return out
}

// finish marks the session done and returns its completion summary.
func (s *Session) finish(status Status, now time.Time) SessionCompletePayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = status
	s.EndTime = &now

	created, errs := s.countsLocked()
	payload := SessionCompletePayload{
		TotalCreated: created,
		TotalErrors:  errs,
		Repos:        make([]RepoSummary, 0, len(s.Records)),
	}
	for _, r := range s.Records {
		rc := r.clone()
		payload.Repos = append(payload.Repos, RepoSummary{
			Name:      rc.RepoName,
			URL:       rc.RepoURL,
			Technique: rc.Technique,
			Status:    rc.Status,
		})
	}
	return payload
}

func (s *Session) countsLocked() (created, errs int) {
	for _, r := range s.Records {
		switch r.Status {
		case RecordCreated:
			created++
		case RecordError:
			errs++
		}
	}
	return created, errs
}

// failOpen marks every non-terminal record as errored with msg.
func (s *Session) failOpen(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Records {
		if !s.Records[i].Status.IsTerminal() {
			s.Records[i].Status = RecordError
			s.Records[i].Error = msg
		}
	}
}
