package object

import (
	"context"
	"sync"

	"sealwire/internal/domain"
	"sealwire/internal/signing"
	"sealwire/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used in tests and single-node
// development. For production, use the S3 store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[domain.Link][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[domain.Link][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, link domain.Link) (*domain.SignedObject, error) {
	s.mu.RLock()
	raw, ok := s.objects[link]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	obj := &domain.SignedObject{}
	if err := obj.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	obj.Link = link
	return obj, nil
}

func (s *MemoryStore) Put(ctx context.Context, obj *domain.SignedObject) (domain.Link, error) {
	link, err := signing.LinkOf(obj.Raw)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if _, ok := s.objects[link]; !ok {
		raw := make([]byte, len(obj.Raw))
		copy(raw, obj.Raw)
		s.objects[link] = raw
	}
	s.mu.Unlock()
	obj.Link = link
	return link, nil
}

func (s *MemoryStore) Del(ctx context.Context, link domain.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[link]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.objects, link)
	return nil
}
