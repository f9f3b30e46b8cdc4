package regstore

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"bizdir/internal/model"
	"bizdir/internal/util"
)

// ErrCapacityExceeded is returned when the store is full even after an
// expired-entry sweep. Registration must then fail loudly rather than
// silently drop the payload.
var ErrCapacityExceeded = errors.New("registration store capacity exceeded")

// Store holds unverified signup payloads keyed by a one-time token, for the
// lifetime of the process only. Nothing is persisted until the user proves
// mailbox ownership by consuming the token. Consumption is a single
// check-and-remove under the lock, so a replayed token can never yield the
// payload twice.
type Store struct {
	mu       sync.RWMutex
	byToken  map[string]*model.Registration
	byEmail  map[string]string // normalized email -> token
	capacity int
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// New creates a registration store with the given capacity bound and entry TTL.
func New(capacity int, ttl time.Duration, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Store{
		byToken:   make(map[string]*model.Registration),
		byEmail:   make(map[string]string),
		capacity:  capacity,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
		sweepStop: make(chan struct{}),
	}
}

// SetClock overrides the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// TTL returns the configured registration lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put stores a registration under its token, stamping created/expires from
// the store's TTL. A prior registration for the same email is replaced and
// its token invalidated. When full, the store sweeps expired entries first
// and rejects only if still at capacity.
func (s *Store) Put(reg *model.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reg.CreatedAt = now
	reg.ExpiresAt = now.Add(s.ttl)

	// Replacing an existing registration for the same email never counts
	// against capacity.
	if old, ok := s.byEmail[reg.Email]; ok {
		delete(s.byToken, old)
		delete(s.byEmail, reg.Email)
	}

	if len(s.byToken) >= s.capacity {
		s.sweepLocked(now)
		if len(s.byToken) >= s.capacity {
			s.logger.Warn("registration store full",
				util.Int("capacity", s.capacity))
			return ErrCapacityExceeded
		}
	}

	s.byToken[reg.Token] = reg
	s.byEmail[reg.Email] = reg.Token
	return nil
}

// Consume atomically removes and returns the registration for token.
// A consumed or expired token yields nothing; the same token can never
// yield a value twice, even under concurrent callers.
func (s *Store) Consume(token string) (*model.Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.byToken[token]
	if !ok {
		return nil, false
	}
	delete(s.byToken, token)
	delete(s.byEmail, reg.Email)

	if reg.Expired(s.now()) {
		return nil, false
	}
	return reg, true
}

// Peek reports whether a live registration exists for token without
// consuming it.
func (s *Store) Peek(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.byToken[token]
	return ok && !reg.Expired(s.now())
}

// FindByEmail returns a copy of the live registration for the normalized
// email, if any.
func (s *Store) FindByEmail(email string) (*model.Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.byEmail[email]
	if !ok {
		return nil, false
	}
	reg, ok := s.byToken[token]
	if !ok || reg.Expired(s.now()) {
		return nil, false
	}
	cp := *reg
	return &cp, true
}

// RotateToken re-keys the registration for email under newToken,
// invalidating the old token and restarting the TTL. Used by resend flows.
func (s *Store) RotateToken(email, newToken string) (*model.Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldToken, ok := s.byEmail[email]
	if !ok {
		return nil, false
	}
	reg, ok := s.byToken[oldToken]
	if !ok || reg.Expired(s.now()) {
		return nil, false
	}

	delete(s.byToken, oldToken)
	reg.Token = newToken
	reg.ExpiresAt = s.now().Add(s.ttl)
	s.byToken[newToken] = reg
	s.byEmail[email] = newToken

	cp := *reg
	return &cp, true
}

// SweepExpired removes expired registrations and returns how many were
// evicted.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *Store) sweepLocked(now time.Time) int {
	count := 0
	for token, reg := range s.byToken {
		if reg.Expired(now) {
			delete(s.byToken, token)
			delete(s.byEmail, reg.Email)
			count++
		}
	}
	return count
}

// Len returns the number of stored registrations, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}

// StartSweeper runs a periodic expiry sweep until Stop is called.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.SweepExpired(); n > 0 {
					s.logger.Debug("swept expired registrations",
						util.Int("evicted", n))
				}
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (s *Store) Stop() {
	s.sweepOnce.Do(func() {
		close(s.sweepStop)
	})
}
