package seal

import (
	"context"
	"sync"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used in tests and single-node
// development.
type MemoryStore struct {
	mu    sync.RWMutex
	seals map[domain.Link]*domain.Seal
	order []domain.Link
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seals: make(map[domain.Link]*domain.Seal)}
}

func (s *MemoryStore) Insert(ctx context.Context, rec *domain.Seal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seals[rec.Link]; exists {
		return sentinel.ErrConflict
	}
	cp := cloneSeal(rec)
	s.seals[rec.Link] = cp
	s.order = append(s.order, rec.Link)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *domain.Seal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seals[rec.Link]; !exists {
		return sentinel.ErrNotFound
	}
	s.seals[rec.Link] = cloneSeal(rec)
	return nil
}

func (s *MemoryStore) GetByLink(ctx context.Context, link domain.Link) (*domain.Seal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.seals[link]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneSeal(rec), nil
}

func (s *MemoryStore) ListUnsealed(ctx context.Context, limit int) ([]*domain.Seal, error) {
	return s.list(limit, func(rec *domain.Seal) bool { return rec.Unsealed })
}

func (s *MemoryStore) ListUnconfirmed(ctx context.Context, limit int) ([]*domain.Seal, error) {
	return s.list(limit, func(rec *domain.Seal) bool { return rec.Unconfirmed && !rec.Unwatched })
}

func (s *MemoryStore) list(limit int, match func(*domain.Seal) bool) ([]*domain.Seal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Seal
	for _, link := range s.order {
		rec := s.seals[link]
		if !match(rec) {
			continue
		}
		out = append(out, cloneSeal(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneSeal(rec *domain.Seal) *domain.Seal {
	cp := *rec
	cp.Errors = append([]domain.SealError(nil), rec.Errors...)
	return &cp
}
