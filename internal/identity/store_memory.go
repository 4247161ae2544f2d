package identity

import (
	"context"
	"sync"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used in tests and single-node
// development.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[domain.Permalink]*domain.Identity
	mappings   map[string]*domain.PubKeyMapping
	webhooks   map[domain.Permalink]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[domain.Permalink]*domain.Identity),
		mappings:   make(map[string]*domain.PubKeyMapping),
		webhooks:   make(map[domain.Permalink]string),
	}
}

func (s *MemoryStore) PutIdentity(ctx context.Context, id *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *id
	s.identities[id.Permalink] = &cp
	return nil
}

func (s *MemoryStore) GetByPermalink(ctx context.Context, permalink domain.Permalink) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[permalink]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (s *MemoryStore) PutMapping(ctx context.Context, m *domain.PubKeyMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.mappings[m.Pub]; ok {
		if existing.Permalink != m.Permalink {
			return sentinel.ErrConflict
		}
		return nil
	}
	cp := *m
	s.mappings[m.Pub] = &cp
	return nil
}

func (s *MemoryStore) GetMapping(ctx context.Context, pub string) (*domain.PubKeyMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[pub]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) SetWebhook(ctx context.Context, permalink domain.Permalink, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[permalink] = url
	return nil
}

func (s *MemoryStore) GetWebhook(ctx context.Context, permalink domain.Permalink) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.webhooks[permalink]
	if !ok || url == "" {
		return "", sentinel.ErrNotFound
	}
	return url, nil
}
