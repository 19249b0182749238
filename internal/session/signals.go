package session

import (
	"context"
	"sync"
	"time"
)

// Signals is the pause/abort register for one session. Every mutation closes
// the current Changed channel so waiters wake immediately instead of polling.
// Abort clears paused; Resume never clears aborted.
type Signals struct {
	mu      sync.Mutex
	paused  bool
	aborted bool
	changed chan struct{}
}

// NewSignals returns a cleared register.
func NewSignals() *Signals {
	return &Signals{changed: make(chan struct{})}
}

func (s *Signals) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Pause requests a pause before the next iteration.
func (s *Signals) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.notifyLocked()
}

// Resume clears a pause.
func (s *Signals) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.notifyLocked()
}

// Abort stops the session at the next check and clears any pause.
func (s *Signals) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.paused = false
	s.notifyLocked()
}

// Reset clears both flags.
func (s *Signals) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.aborted = false
	s.notifyLocked()
}

func (s *Signals) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Signals) IsAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// ShouldStop reports paused || aborted.
func (s *Signals) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused || s.aborted
}

// Changed returns a channel closed on the next mutation.
func (s *Signals) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// WaitResumed blocks while paused. It returns aborted=true if the session was
// aborted while waiting, or ctx's error if ctx ends first.
func (s *Signals) WaitResumed(ctx context.Context) (aborted bool, err error) {
	for {
		s.mu.Lock()
		if s.aborted {
			s.mu.Unlock()
			return true, nil
		}
		if !s.paused {
			s.mu.Unlock()
			return false, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Sleep waits for d. It returns true only if the full duration elapsed; a
// signal change, an already set flag, or ctx ending cut it short.
func (s *Signals) Sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	if s.paused || s.aborted {
		s.mu.Unlock()
		return false
	}
	ch := s.changed
	s.mu.Unlock()

	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ch:
		return false
	case <-ctx.Done():
		return false
	}
}
