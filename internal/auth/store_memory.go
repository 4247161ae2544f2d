package auth

import (
	"context"
	"sync"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	tick     uint64
}

type sessionRecord struct {
	session *domain.Session
	updated uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*sessionRecord)}
}

func (s *MemoryStore) PutSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	s.sessions[session.ClientID] = &sessionRecord{session: cloneSession(session), updated: s.tick}
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, clientID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneSession(rec.session), nil
}

func (s *MemoryStore) GetLiveByPermalink(_ context.Context, permalink domain.Permalink) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *sessionRecord
	for _, rec := range s.sessions {
		if rec.session.Permalink != permalink || !rec.session.Live() {
			continue
		}
		if best == nil || rec.updated > best.updated {
			best = rec
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return cloneSession(best.session), nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, clientID)
	return nil
}

func cloneSession(in *domain.Session) *domain.Session {
	out := *in
	if in.ClientPosition != nil {
		p := *in.ClientPosition
		out.ClientPosition = &p
	}
	if in.ServerPosition != nil {
		p := *in.ServerPosition
		out.ServerPosition = &p
	}
	return &out
}
