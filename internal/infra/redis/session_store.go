package redis

import (
	"context"
	"sync"
	"time"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - It keeps a local in-memory map of sessions to reuse the in-process
//     broadcast logic; Redis marks session liveness so sibling instances
//     and dashboards can discover running competitions.
//   - Pair it with CompetitionStore for shared snapshots and status CAS.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
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
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(comp.ID), "1", s.ttl).Err()
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
	if _, ok := s.sessions[competitionID]; !ok {
		return
	}
	delete(s.sessions, competitionID)
	_ = s.client.Del(context.Background(), s.key(competitionID)).Err()
}

func (s *SessionStore) key(competitionID string) string {
	return "competition:session:" + competitionID
}
