package memory

import (
	"sync"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(comp domain.Competition, quiz domain.Quiz) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[comp.ID]; ok {
		return session
	}
	session := app.NewSession(comp, quiz)
	s.sessions[comp.ID] = session
	return session
}

func (s *SessionStore) Get(competitionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[competitionID]
	return session, ok
}

func (s *SessionStore) All() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

func (s *SessionStore) Delete(competitionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, competitionID)
}
