package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/laporan-bot/internal/domain"
)

// MemoryStore implements SessionStore with an in-process map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

// NewMemory creates an empty in-memory session store.
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-memory store stamping sessions with now.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		now:      now,
	}
}

func (m *MemoryStore) Create(_ context.Context, userID string) (*domain.Session, error) {
	s := domain.NewSession(userID, m.now())

	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()

	return s.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Update(_ context.Context, userID string, p Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return false, nil
	}

	next := s.Clone()
	if err := p.Apply(next, m.now()); err != nil {
		return true, err
	}
	m.sessions[userID] = next
	return true, nil
}

func (m *MemoryStore) End(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[userID]; !ok {
		return false, nil
	}
	delete(m.sessions, userID)
	return true, nil
}

func (m *MemoryStore) Expired(_ context.Context, idle time.Duration) ([]*domain.Session, error) {
	threshold := m.now().Add(-idle)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UpdatedAt.Before(threshold) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
