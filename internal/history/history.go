// Package history implements the per-session undo stack: an append-only
// sequence of context snapshots supporting exactly-one-step undo per call.
// The stack holds arbitrary depth up to a bound; the product contract
// exposes a single pop to the end user.
package history

import (
	"sync"
	"time"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// DefaultDepth is the snapshot bound when none is configured. One is the
// contractual minimum; ten leaves headroom for multi-step undo.
const DefaultDepth = 10

// Manager owns every session's snapshot stack. Synchronization is
// per-session: pushes on unrelated sessions never contend.
type Manager struct {
	depth int
	now   func() time.Time

	mu     sync.Mutex
	stacks map[string]*stack
}

type stack struct {
	mu      sync.Mutex
	entries []domain.StepHistoryEntry
	seq     uint64
}

// New creates a manager with the given snapshot depth; depth < 1 uses
// DefaultDepth.
func New(depth int) *Manager {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Manager{
		depth:  depth,
		now:    time.Now,
		stacks: make(map[string]*stack),
	}
}

// Push snapshots a context before it is replaced. The snapshot is deep
// copied; the caller is free to keep mutating its own reference. Oldest
// entries are evicted beyond the depth bound.
func (m *Manager) Push(sessionID string, snapshot *domain.SessionContext) {
	s := m.stackFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.entries = append(s.entries, domain.StepHistoryEntry{
		SessionID: sessionID,
		Sequence:  s.seq,
		Context:   snapshot.Clone(),
		TakenAt:   m.now(),
	})
	if len(s.entries) > m.depth {
		s.entries = s.entries[len(s.entries)-m.depth:]
	}
}

// Undo pops and returns the most recent snapshot. The second return is
// false when the stack is empty (EmptyHistory); that is a normal outcome,
// not an error, and callers degrade undo to a no-op.
func (m *Manager) Undo(sessionID string) (*domain.SessionContext, bool) {
	s := m.stackFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil, false
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top.Context.Clone(), true
}

// Depth reports how many snapshots a session currently holds.
func (m *Manager) Depth(sessionID string) int {
	s := m.stackFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Drop discards a session's stack when the session ends or is abandoned.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, sessionID)
}

func (m *Manager) stackFor(sessionID string) *stack {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stacks[sessionID]
	if !ok {
		s = &stack{}
		m.stacks[sessionID] = s
	}
	return s
}
