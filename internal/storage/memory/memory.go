// Package memory implements storage.Storage in process memory. It backs
// local development and tests; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workfloww/fetchfloww/internal/storage"
)

// Store is a mutex-guarded in-memory storage backend.
type Store struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]storage.User
	emailToID   map[string]uuid.UUID
	preferences map[uuid.UUID]storage.Preferences
	logs        map[uuid.UUID][]storage.LogEntry

	now func() time.Time
}

var _ storage.Storage = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]storage.User),
		emailToID:   make(map[string]uuid.UUID),
		preferences: make(map[uuid.UUID]storage.Preferences),
		logs:        make(map[uuid.UUID][]storage.LogEntry),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertUser implements storage.UserStorage.
func (s *Store) UpsertUser(_ context.Context, user storage.User) (*storage.User, error) {
	email := normalizeEmail(user.Email)
	if email == "" {
		return nil, storage.ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.emailToID[email]; ok {
		existing := s.users[id]
		existing.Name = user.Name
		existing.Picture = user.Picture
		existing.Tokens.AccessToken = user.Tokens.AccessToken
		existing.Tokens.Expiry = user.Tokens.Expiry
		if user.Tokens.RefreshToken != "" {
			existing.Tokens.RefreshToken = user.Tokens.RefreshToken
		}
		existing.UpdatedAt = now
		s.users[id] = existing
		return &existing, nil
	}

	user.ID = uuid.New()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	s.emailToID[email] = user.ID
	return &user, nil
}

// UserByID implements storage.UserStorage.
func (s *Store) UserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

// UserByEmail implements storage.UserStorage.
func (s *Store) UserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailToID[normalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

// UpdateTokens implements storage.UserStorage.
func (s *Store) UpdateTokens(_ context.Context, id uuid.UUID, tokens storage.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.Tokens.AccessToken = tokens.AccessToken
	user.Tokens.Expiry = tokens.Expiry
	if tokens.RefreshToken != "" {
		user.Tokens.RefreshToken = tokens.RefreshToken
	}
	user.UpdatedAt = s.now()
	s.users[id] = user
	return nil
}

// Preferences implements storage.PreferencesStorage.
func (s *Store) Preferences(_ context.Context, userID uuid.UUID) (*storage.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, ok := s.preferences[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &prefs, nil
}

// SavePreferences implements storage.PreferencesStorage.
func (s *Store) SavePreferences(_ context.Context, prefs storage.Preferences) (*storage.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[prefs.UserID]; !ok {
		return nil, storage.ErrNotFound
	}
	prefs.UpdatedAt = s.now()
	s.preferences[prefs.UserID] = prefs
	return &prefs, nil
}

// AppendLogs implements storage.LogStorage.
func (s *Store) AppendLogs(_ context.Context, entries ...storage.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = s.now()
		}
		s.logs[entry.UserID] = append(s.logs[entry.UserID], entry)
	}
	return nil
}

// Logs implements storage.LogStorage.
func (s *Store) Logs(_ context.Context, userID uuid.UUID, filter storage.LogFilter) ([]storage.LogEntry, error) {
	s.mu.RLock()
	all := s.logs[userID]
	out := make([]storage.LogEntry, 0, len(all))
	// Walk newest insertion first so the stable sort keeps ties in that order.
	for i := len(all) - 1; i >= 0; i-- {
		entry := all[i]
		if !filter.Before.IsZero() && entry.CreatedAt.After(filter.Before) {
			continue
		}
		out = append(out, entry)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
