package retention

import (
	"context"
	"sync"
)

// ConfirmFunc asks whether excess old backups may be deleted.
type ConfirmFunc func(ctx context.Context, excess int) bool

// Session caches the answer to the delete-extra-backups question. Its scope is
// whatever owns it: the backup runner keeps one for the life of the process, so
// the user is asked at most once. A session with no ConfirmFunc always accepts.
type Session struct {
	confirm ConfirmFunc

	mu       sync.Mutex
	asked    bool
	decision bool
}

func NewSession(confirm ConfirmFunc) *Session {
	return &Session{confirm: confirm}
}

// Decide returns the cached decision, prompting only the first time.
func (s *Session) Decide(ctx context.Context, excess int) bool {
	if s == nil || s.confirm == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.asked {
		s.decision = s.confirm(ctx, excess)
		s.asked = true
	}
	return s.decision
}

// Asked reports whether the question has been answered in this session.
func (s *Session) Asked() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asked
}

// Reset forgets the cached answer.
func (s *Session) Reset() {
	s.mu.Lock()
	s.asked = false
	s.decision = false
	s.mu.Unlock()
}
