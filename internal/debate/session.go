package debate

import (
	"fmt"
	"sync"

	"dev.helix.panel/internal/models"
)

// session tracks the suspension state of one running debate. The round loop
// only consults it at round boundaries, so a pause never lands mid-round.
type session struct {
	id string

	mu     sync.Mutex
	state  models.SessionState // empty while the session is not suspended
	reason string
	resume chan struct{}
	extra  []string
}

func newSession(id string) *session {
	return &session{id: id}
}

// suspend requests a suspension. The round loop honors it at the next round
// boundary.
func (s *session) suspend(state models.SessionState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != "" {
		return fmt.Errorf("session %s is already %s", s.id, s.state)
	}
	s.state = state
	s.reason = reason
	s.resume = make(chan struct{})
	return nil
}

// resumeWith lifts a suspension, optionally queueing extra context for
// injection into the transcript at the resumed round.
func (s *session) resumeWith(extraContext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return fmt.Errorf("session %s is not suspended", s.id)
	}
	if extraContext != "" {
		s.extra = append(s.extra, extraContext)
	}
	s.state = ""
	s.reason = ""
	close(s.resume)
	s.resume = nil
	return nil
}

// suspension returns the pending suspension, if any, together with the
// channel that closes on resume.
func (s *session) suspension() (models.SessionState, string, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason, s.resume
}

// takeExtra drains the queued extra context.
func (s *session) takeExtra() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	extra := s.extra
	s.extra = nil
	return extra
}
