// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tambola-live/tambola-service/internal/models"
)

// MemoryStore is the in-process Store used for tests and single-node
// development runs. Semantics match PostgresStore: conditional apply keyed
// on command id, archive-then-clear on completion, snapshot fan-out.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.GameSession
	applied  map[string]map[uuid.UUID]struct{}
	archive  map[string][]*models.GameSession
	hub      *watchHub
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.GameSession),
		applied:  make(map[string]map[uuid.UUID]struct{}),
		archive:  make(map[string][]*models.GameSession),
		hub:      newWatchHub(),
	}
}

func (m *MemoryStore) Session(ctx context.Context, hostID string) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.sessions[hostID], nil
}

func (m *MemoryStore) ApplyCommand(ctx context.Context, hostID string, commandID uuid.UUID, updates []Update) (*models.GameSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.applied[hostID] == nil {
		m.applied[hostID] = make(map[uuid.UUID]struct{})
	}
	if _, dup := m.applied[hostID][commandID]; dup {
		current := m.sessions[hostID]
		m.mu.Unlock()
		return current, ErrAlreadyApplied
	}

	next, err := applyUpdates(m.sessions[hostID], updates)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.applied[hostID][commandID] = struct{}{}
	if next == nil {
		delete(m.sessions, hostID)
	} else {
		m.sessions[hostID] = next
	}
	m.mu.Unlock()

	m.hub.publish(hostID, next)
	return next, nil
}

func (m *MemoryStore) Applied(ctx context.Context, hostID string, commandID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.applied[hostID][commandID]
	return ok, nil
}

func (m *MemoryStore) ArchiveSession(ctx context.Context, hostID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	current, ok := m.sessions[hostID]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.archive[hostID] = append(m.archive[hostID], current)
	delete(m.sessions, hostID)
	m.mu.Unlock()

	m.hub.publish(hostID, nil)
	return nil
}

// ArchivedSessions returns the archived documents for a host, oldest first.
func (m *MemoryStore) ArchivedSessions(hostID string) []*models.GameSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.GameSession, len(m.archive[hostID]))
	copy(out, m.archive[hostID])
	return out
}

func (m *MemoryStore) Watch(ctx context.Context, hostID string) (<-chan *models.GameSession, func()) {
	// Subscribe while holding the store mutex so no commit can slip in
	// between the snapshot read and the hub registration.
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub.subscribe(ctx, hostID, m.sessions[hostID])
}

// Close shuts the store down and closes all watch channels.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.closeAll()
}
