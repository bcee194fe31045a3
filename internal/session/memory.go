package session

import (
	"context"
	"sync"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// MemoryStore is a Persistence backed by a map. Sessions do not survive a
// restart; intended for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionContext
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.SessionContext)}
}

func (m *MemoryStore) Save(_ context.Context, sctx *domain.SessionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sctx.SessionID] = sctx.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*domain.SessionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sctx, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sctx.Clone(), nil
}

func (m *MemoryStore) Close() error { return nil }
