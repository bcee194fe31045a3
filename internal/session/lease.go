package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mindshift/protocol-engine/internal/domain"
)

// DefaultLeaseTTL bounds how long a turn may hold a session before the
// lease can be reclaimed. An abandoned client can therefore never wedge a
// session indefinitely.
const DefaultLeaseTTL = 30 * time.Second

// acquirePoll is the re-check interval while waiting for a held lease.
const acquirePoll = 25 * time.Millisecond

// Lease is exclusive ownership of one session for the duration of a turn.
type Lease struct {
	SessionID string

	token   string
	expires time.Time
}

// Acquire obtains the session's lease, serializing turns per session. It
// waits until the current holder releases or its lease expires; if ctx ends
// first the caller gets ErrSessionBusy. Sessions are independent: acquiring
// one never contends with another.
func (s *Store) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	e := s.entry(sessionID)

	for {
		e.mu.Lock()
		now := s.now()
		if e.lease == nil || now.After(e.lease.expires) {
			l := &Lease{
				SessionID: sessionID,
				token:     uuid.New().String(),
				expires:   now.Add(s.leaseTTL),
			}
			e.lease = l
			e.mu.Unlock()
			return l, nil
		}
		e.mu.Unlock()

		timer := time.NewTimer(acquirePoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, domain.ErrSessionBusy
		case <-timer.C:
		}
	}
}

// Release returns the lease. Idempotent, and a no-op if the lease has
// already been reclaimed by expiry.
func (s *Store) Release(l *Lease) {
	if l == nil {
		return
	}
	e := s.entry(l.SessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lease != nil && e.lease.token == l.token {
		e.lease = nil
	}
}

// holds reports whether l is still the session's live lease.
func (s *Store) holds(l *Lease) bool {
	e := s.entry(l.SessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lease != nil && e.lease.token == l.token && !s.now().After(e.lease.expires)
}
