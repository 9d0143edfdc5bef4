package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a user may sit on the consent screen.
const DefaultStateTTL = 10 * time.Minute

var (
	// ErrStateNotFound is returned for unknown or already consumed states.
	ErrStateNotFound = errors.New("authorization state not found")
	// ErrStateExpired is returned for states past their expiry.
	ErrStateExpired = errors.New("authorization state expired")
)

// AuthorizationState is the server side of one in-flight sign-in.
type AuthorizationState struct {
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	Redirect  string    `json:"redirect"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the state is past its expiry at now.
func (s *AuthorizationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// StateStore keeps authorization states between login and callback.
type StateStore interface {
	Save(ctx context.Context, state *AuthorizationState) error
	// Consume returns and deletes the state. A second call for the same
	// value returns ErrStateNotFound.
	Consume(ctx context.Context, state string) (*AuthorizationState, error)
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*AuthorizationState
	logger *slog.Logger
	now    func() time.Time
}

// NewMemoryStateStore creates a store and starts a cleanup loop that runs
// every interval until ctx is cancelled.
func NewMemoryStateStore(ctx context.Context, interval time.Duration, logger *slog.Logger) *MemoryStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStateStore{
		states: make(map[string]*AuthorizationState),
		logger: logger,
		now:    time.Now,
	}
	if interval > 0 {
		go s.cleanupLoop(ctx, interval)
	}
	return s
}

// Save implements StateStore.
func (s *MemoryStateStore) Save(_ context.Context, state *AuthorizationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.states[state.State] = &cp
	return nil
}

// Consume implements StateStore.
func (s *MemoryStateStore) Consume(_ context.Context, state string) (*AuthorizationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.states, state)

	if st.Expired(s.now()) {
		return nil, ErrStateExpired
	}
	return st, nil
}

// Len returns the number of pending states.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *MemoryStateStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.removeExpired(); n > 0 {
				s.logger.Debug("removed expired authorization states", "count", n)
			}
		}
	}
}

func (s *MemoryStateStore) removeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, st := range s.states {
		if st.Expired(now) {
			delete(s.states, key)
			removed++
		}
	}
	return removed
}
