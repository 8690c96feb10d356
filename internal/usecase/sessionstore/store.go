// Package sessionstore defines the session persistence boundary C4 and C5
// depend on and ships an in-memory implementation sufficient for tests and
// single-process operation.
package sessionstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"browsir/internal/domain"
)

// Store is the durable session/entry persistence boundary. Sessions are
// mutated in place by their owning goroutine (the loop controller) and
// handed to Save once a run yields. Memory.Get returns the same pointer it
// stored, so callers sharing one process observe each other's in-flight
// appends; SQLite.Get decodes a fresh copy of the last saved state.
type Store interface {
	Create(id string, now time.Time) *domain.Session
	Get(id string) (*domain.Session, bool)
	Save(s *domain.Session) error
	Delete(id string) error
	List() []SessionSummary
}

// SessionSummary is the lightweight projection brain.session.list returns —
// never the full entry DAG, which can be large.
type SessionSummary struct {
	ID         string
	CreatedAt  time.Time
	EntryCount int
	Role       string
	ForkedFrom string
}

// Memory is an in-memory Store. It satisfies every call a single-process
// runtime makes; SQLite in this package is the durable alternative.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemory returns an empty in-memory session store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*domain.Session)}
}

func (m *Memory) Create(id string, now time.Time) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := domain.NewSession(id, now)
	m.sessions[id] = s
	return s
}

func (m *Memory) Get(id string) (*domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Save is a no-op beyond existence checking: the in-memory store already
// holds the same *domain.Session pointer Create/Get handed out, so in-place
// Entry.Append mutations are visible without a separate write step.
func (m *Memory) Save(s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("sessionstore: unknown session %q", s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("sessionstore: unknown session %q", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) List() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionSummary{
			ID: s.ID, CreatedAt: s.CreatedAt, EntryCount: s.EntryCount(),
			Role: s.Meta.Role, ForkedFrom: s.Meta.ForkedFrom,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
