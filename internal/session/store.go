// Package session implements the session context store: one SessionContext
// per active session with atomic read-modify-write semantics, per-session
// lease serialization, and write-through persistence for resumption.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// Persistence is the durable snapshot layer behind the in-memory store.
// Implementations provide atomic get/put keyed by session id; the schema is
// their own concern.
type Persistence interface {
	Save(ctx context.Context, sctx *domain.SessionContext) error
	Load(ctx context.Context, sessionID string) (*domain.SessionContext, error)
	Close() error
}

// Store holds active session contexts. All mutation goes through leases so
// two concurrent turns for the same session can never interleave.
type Store struct {
	persist  Persistence
	leaseTTL time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	sctx  *domain.SessionContext
	lease *Lease
}

// Option configures the store.
type Option func(*Store)

// WithLeaseTTL overrides the lease lifetime.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store. persist may be nil for a purely in-memory store.
func New(persist Persistence, opts ...Option) *Store {
	s := &Store{
		persist:  persist,
		leaseTTL: DefaultLeaseTTL,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		e = &entry{}
		s.entries[sessionID] = e
	}
	return e
}

// Get returns the session's context, restoring from persistence on a cache
// miss so sessions survive process restarts. The returned context is a
// clone; mutating it does not affect the store.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	e := s.entry(sessionID)
	e.mu.Lock()
	if e.sctx != nil {
		out := e.sctx.Clone()
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	if s.persist == nil {
		return nil, domain.ErrSessionNotFound
	}
	sctx, err := s.persist.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, &domain.StoreError{Op: "load", Err: err}
	}

	e.mu.Lock()
	if e.sctx == nil {
		e.sctx = sctx.Clone()
	}
	out := e.sctx.Clone()
	e.mu.Unlock()
	return out, nil
}

// Put replaces the session's context. The caller must hold the session's
// live lease; an expired lease gets ErrLeaseExpired and nothing is written,
// preserving the last-known-good context.
func (s *Store) Put(ctx context.Context, l *Lease, sctx *domain.SessionContext) error {
	if l == nil || !s.holds(l) {
		return domain.ErrLeaseExpired
	}

	if s.persist != nil {
		if err := s.persist.Save(ctx, sctx); err != nil {
			return &domain.StoreError{Op: "save", Err: err}
		}
	}

	e := s.entry(l.SessionID)
	e.mu.Lock()
	e.sctx = sctx.Clone()
	e.mu.Unlock()
	return nil
}

// Create registers a new session context. Fails if the session already
// exists in memory or persistence.
func (s *Store) Create(ctx context.Context, sctx *domain.SessionContext) error {
	if _, err := s.Get(ctx, sctx.SessionID); err == nil {
		return &domain.StoreError{Op: "create", Err: errors.New("session already exists")}
	} else if !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}

	if s.persist != nil {
		if err := s.persist.Save(ctx, sctx); err != nil {
			return &domain.StoreError{Op: "create", Err: err}
		}
	}

	e := s.entry(sctx.SessionID)
	e.mu.Lock()
	e.sctx = sctx.Clone()
	e.mu.Unlock()
	return nil
}

// Retire marks the session completed or abandoned. The context is kept (not
// deleted) for the surrounding product's records; only the in-memory entry
// is dropped once persisted.
func (s *Store) Retire(ctx context.Context, l *Lease, sctx *domain.SessionContext, status domain.SessionStatus) error {
	sctx = sctx.Clone()
	sctx.Status = status
	if err := s.Put(ctx, l, sctx); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, sctx.SessionID)
	s.mu.Unlock()
	return nil
}

// Active returns the ids of sessions currently resident in memory, with
// their last activity time. Used by the idle reaper.
func (s *Store) Active() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for id, e := range s.entries {
		e.mu.Lock()
		if e.sctx != nil {
			out[id] = e.sctx.LastActivityTime
		}
		e.mu.Unlock()
	}
	return out
}

// Close flushes nothing (writes are write-through) and closes persistence.
func (s *Store) Close() error {
	if s.persist != nil {
		return s.persist.Close()
	}
	return nil
}
