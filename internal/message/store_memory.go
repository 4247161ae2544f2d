package message

import (
	"context"
	"sort"
	"sync"

	"sealwire/internal/domain"
	"sealwire/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used in tests and single-node
// development. It enforces the same conditional-insert invariants as the
// PostgreSQL store, under one mutex.
type MemoryStore struct {
	mu        sync.RWMutex
	byLink    map[domain.Link]*record
	byPayload map[domain.Link]domain.Link
	bySlot    map[slot]domain.Link
	streams   map[streamKey][]*record
}

type record struct {
	msg  domain.Message
	seal *domain.Seal
}

type slot struct {
	counterparty domain.Permalink
	inbound      bool
	seq          uint64
}

type streamKey struct {
	counterparty domain.Permalink
	inbound      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byLink:    make(map[domain.Link]*record),
		byPayload: make(map[domain.Link]domain.Link),
		bySlot:    make(map[slot]domain.Link),
		streams:   make(map[streamKey][]*record),
	}
}

func (s *MemoryStore) Put(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := slot{counterparty: m.Counterparty(), inbound: m.Inbound, seq: m.Seq}
	if _, taken := s.bySlot[sl]; taken {
		return sentinel.ErrConflict
	}
	if _, dup := s.byLink[m.Link]; dup {
		return sentinel.ErrConflict
	}

	rec := &record{msg: *m}
	s.byLink[m.Link] = rec
	s.bySlot[sl] = m.Link
	if m.Object != nil && m.Object.Link != "" {
		s.byPayload[m.Object.Link] = m.Link
	}

	key := streamKey{counterparty: m.Counterparty(), inbound: m.Inbound}
	stream := append(s.streams[key], rec)
	sort.Slice(stream, func(i, j int) bool { return stream[i].msg.Seq < stream[j].msg.Seq })
	s.streams[key] = stream
	return nil
}

func (s *MemoryStore) GetByLink(ctx context.Context, link domain.Link) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byLink[link]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := rec.msg
	return &cp, nil
}

func (s *MemoryStore) LastSent(ctx context.Context, recipient domain.Permalink) (*domain.Message, error) {
	return s.last(streamKey{counterparty: recipient, inbound: false}, bySeq)
}

func (s *MemoryStore) LastReceived(ctx context.Context, author domain.Permalink) (*domain.Message, error) {
	return s.last(streamKey{counterparty: author, inbound: true}, byTime)
}

type lastCriterion int

const (
	bySeq lastCriterion = iota
	byTime
)

func (s *MemoryStore) last(key streamKey, crit lastCriterion) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[key]
	if len(stream) == 0 {
		return nil, sentinel.ErrNotFound
	}
	best := stream[0]
	for _, rec := range stream[1:] {
		switch crit {
		case bySeq:
			if rec.msg.Seq > best.msg.Seq {
				best = rec
			}
		case byTime:
			if rec.msg.Time > best.msg.Time {
				best = rec
			}
		}
	}
	cp := best.msg
	return &cp, nil
}

func (s *MemoryStore) ListSent(ctx context.Context, recipient domain.Permalink, r Range, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[streamKey{counterparty: recipient, inbound: false}]
	var out []*domain.Message
	for _, rec := range stream {
		if r.After != nil && rec.msg.Seq <= *r.After {
			continue
		}
		if r.Before != nil && rec.msg.Seq >= *r.Before {
			break
		}
		cp := rec.msg
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AttachSeal(ctx context.Context, link domain.Link, seal *domain.Seal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgLink, ok := s.byPayload[link]
	if !ok {
		return sentinel.ErrNotFound
	}
	sealCp := *seal
	s.byLink[msgLink].seal = &sealCp
	return nil
}

// SealFor returns the confirmation data attached to the message carrying the
// given payload link. Test helper mirror of AttachSeal.
func (s *MemoryStore) SealFor(link domain.Link) *domain.Seal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgLink, ok := s.byPayload[link]
	if !ok {
		return nil
	}
	return s.byLink[msgLink].seal
}
