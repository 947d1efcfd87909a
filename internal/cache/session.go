package cache

import (
	"sync"
	"time"
)

// Research is the latest completed research for a session, held in
// memory so follow-up questions can reuse it without a database trip.
type Research struct {
	Query     string
	Answer    string
	Summary   string
	Sources   []SourceRef
	CreatedAt time.Time
}

// SourceRef points at one source used in a research answer.
type SourceRef struct {
	URL   string
	Title string
}

// SessionCache keeps the most recent research per session.
type SessionCache struct {
	mu     sync.RWMutex
	latest map[string]*Research
}

// NewSessionCache creates an empty session cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{latest: make(map[string]*Research)}
}

// Set replaces the session's latest research.
func (s *SessionCache) Set(sessionID string, r Research) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Sources = append([]SourceRef(nil), r.Sources...)
	s.latest[sessionID] = &r
}

// Get returns a copy of the session's latest research, or nil when the
// session has none. Callers may mutate the copy freely.
func (s *SessionCache) Get(sessionID string) *Research {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[sessionID]
	if !ok {
		return nil
	}
	out := *r
	out.Sources = append([]SourceRef(nil), r.Sources...)
	return &out
}

// Delete drops the session's research. Used when fresh research is
// requested.
func (s *SessionCache) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, sessionID)
}
