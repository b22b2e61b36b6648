package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/models"
)

// entry pairs a session with its per-user lock. The lock is a buffered
// channel semaphore so Acquire can respect context cancellation.
type entry struct {
	sem   chan struct{}
	sess  *models.Session
	reset atomic.Bool
}

// Store keeps per-user sessions behind a single-writer discipline: no two
// orchestration loops ever hold the lock for the same userId simultaneously.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	log     logr.Logger
	now     func() time.Time

	// OnEvict, when set before Run starts, observes each sweep's eviction count.
	OnEvict func(count int)
}

// Lease proves exclusive ownership of one user's session until released.
type Lease struct {
	userID   string
	entry    *entry
	released bool
}

// UserID returns the owner of the lease.
func (l *Lease) UserID() string { return l.userID }

// NewStore creates a session store with the given inactivity TTL.
func NewStore(ttl time.Duration, log logr.Logger) *Store {
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// Acquire loads or creates the session for userID and returns it together
// with an exclusive lease. It blocks behind another in-flight message for the
// same user until that one releases, or until ctx is done.
func (s *Store) Acquire(ctx context.Context, userID string) (*models.Session, *Lease, error) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		e.sess = newSession(userID, s.now())
		s.entries[userID] = e
	}
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, apperrors.New(apperrors.ErrCodeSessionAcquire, "timed out waiting for session lock", ctx.Err())
	}

	if err := validate(e.sess, userID); err != nil {
		// Reset rather than block the user behind corrupt state.
		s.log.Info("resetting corrupt session", "userID", userID, "error", err.Error())
		e.sess = newSession(userID, s.now())
	}

	return cloneSession(e.sess), &Lease{userID: userID, entry: e}, nil
}

// Release persists the updated session and frees the lock. It is safe to call
// exactly once per lease and must be called on every path, including errors.
func (s *Store) Release(lease *Lease, updated *models.Session) {
	if lease == nil || lease.released {
		return
	}
	lease.released = true
	if updated != nil {
		updated.LastActiveAt = s.now()
		lease.entry.sess = cloneSession(updated)
	}
	<-lease.entry.sem
}

// RequestReset flags the user's live session so an in-flight loop finalizes
// at its next checkpoint instead of finishing its remaining tool and
// reasoning calls. It deliberately does not take the per-user lock: a reset
// must be able to interrupt the current lock holder.
func (s *Store) RequestReset(userID string) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if ok {
		e.reset.Store(true)
	}
}

// ConsumeReset reports whether a reset is pending for userID and clears it.
func (s *Store) ConsumeReset(userID string) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return e.reset.CompareAndSwap(true, false)
}

// EvictExpired removes sessions idle past the TTL. Locked sessions are
// skipped; they are in use and by definition not idle.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for userID, e := range s.entries {
		select {
		case e.sem <- struct{}{}:
		default:
			continue
		}
		if now.Sub(e.sess.LastActiveAt) > s.ttl {
			delete(s.entries, userID)
			evicted++
		}
		<-e.sem
	}
	if evicted > 0 {
		s.log.V(1).Info("evicted idle sessions", "count", evicted)
	}
	return evicted
}

// Run evicts periodically until the stop channel closes.
func (s *Store) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := s.EvictExpired(s.now())
			if s.OnEvict != nil {
				s.OnEvict(n)
			}
		case <-stop:
			return
		}
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newSession(userID string, now time.Time) *models.Session {
	return &models.Session{
		UserID:       userID,
		Pending:      models.PendingNone,
		LastActiveAt: now,
	}
}

func validate(sess *models.Session, userID string) error {
	if sess == nil {
		return apperrors.New(apperrors.ErrCodeSessionCorrupt, "nil session", nil)
	}
	if sess.UserID != userID {
		return apperrors.New(apperrors.ErrCodeSessionCorrupt, "session owner mismatch", nil)
	}
	switch sess.Pending {
	case models.PendingNone, models.PendingAge, models.PendingGender:
	default:
		return apperrors.New(apperrors.ErrCodeSessionCorrupt, "unknown pending state", nil)
	}
	for _, turn := range sess.Window {
		switch turn.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleTool:
		default:
			return apperrors.New(apperrors.ErrCodeSessionCorrupt, "unknown turn role", nil)
		}
	}
	return nil
}

// cloneSession copies the session so loop mutations never alias store state
// outside the lock.
func cloneSession(sess *models.Session) *models.Session {
	cp := *sess
	cp.Window = make([]models.ConversationTurn, len(sess.Window))
	copy(cp.Window, sess.Window)
	return &cp
}
