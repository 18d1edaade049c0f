package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is the per-agent model conversation plus its activity clock.
type Session struct {
	model     ModelSession
	createdAt time.Time
	now       func() time.Time

	lastInteraction atomic.Int64
	closeOnce       sync.Once
	closeErr        error
}

func newSession(model ModelSession, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		model:     model,
		createdAt: now(),
		now:       now,
	}
	s.lastInteraction.Store(s.createdAt.UnixNano())
	return s
}

// Model returns the underlying model conversation.
func (s *Session) Model() ModelSession {
	return s.model
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Touch records an accepted inbound message. The timestamp never moves backwards.
func (s *Session) Touch() {
	ts := s.now().UnixNano()
	for {
		cur := s.lastInteraction.Load()
		if ts <= cur {
			return
		}
		if s.lastInteraction.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// LastInteraction returns the time of the most recent accepted inbound message,
// or the creation time if none was accepted yet.
func (s *Session) LastInteraction() time.Time {
	return time.Unix(0, s.lastInteraction.Load())
}

// IdleFor reports how long the session has been without an accepted message.
func (s *Session) IdleFor() time.Duration {
	return s.now().Sub(s.LastInteraction())
}

func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.model.Close()
	})
	return s.closeErr
}
