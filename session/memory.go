package session

import (
	"context"
	"sort"
	"sync"

	"github.com/bankchat/bankchat-go/bankchat"
)

// MemoryStore keeps sessions in process memory with FIFO capacity eviction:
// when a new session would exceed the capacity, the oldest session by
// creation time is dropped.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*Session
	order    []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store evicting beyond capacity sessions.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryStore{
		capacity: capacity,
		sessions: make(map[string]*Session),
	}
}

// Get returns a copy of the session or bankchat.ErrSessionNotFound. The
// store never hands out its own pointers, so a reader and a concurrent turn
// on the same session cannot share maps.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, bankchat.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// GetOrCreate returns the session, creating and registering it if absent.
func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Clone(), nil
	}

	if len(m.order) >= m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.sessions, oldest)
	}

	s := New(id)
	m.sessions[id] = s
	m.order = append(m.order, id)
	return s.Clone(), nil
}

// Put stores a copy of the session. Until Put, mutations on a session
// obtained from Get or GetOrCreate stay private to the caller.
func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		if len(m.order) >= m.capacity {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.sessions, oldest)
		}
		m.order = append(m.order, s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Delete removes the session; deleting an unknown id is not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil
	}
	delete(m.sessions, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns session summaries, most recently updated first.
func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		summaries = append(summaries, s.Summarize())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Count returns the number of stored sessions.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}
