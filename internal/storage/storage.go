// Package storage defines the persistence interfaces the route groups rely on.
// Concrete backends live in the memory and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStorage persists signed-in users and their Google credentials.
type UserStorage interface {
	// UpsertUser inserts a user or updates the existing row matched by email.
	// Empty RefreshToken values never overwrite a stored refresh token.
	UpsertUser(ctx context.Context, user User) (*User, error)
	// UserByID returns ErrNotFound when no such user exists.
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)
	// UserByEmail returns ErrNotFound when no such user exists.
	UserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateTokens stores refreshed credentials for a user.
	UpdateTokens(ctx context.Context, id uuid.UUID, tokens Tokens) error
}

// PreferencesStorage persists the per-user sync preferences.
type PreferencesStorage interface {
	// Preferences returns ErrNotFound when the user has not saved any yet.
	Preferences(ctx context.Context, userID uuid.UUID) (*Preferences, error)
	SavePreferences(ctx context.Context, prefs Preferences) (*Preferences, error)
}

// LogStorage persists the per-user activity log.
type LogStorage interface {
	AppendLogs(ctx context.Context, entries ...LogEntry) error
	// Logs returns entries newest first. A zero Before means no upper bound.
	Logs(ctx context.Context, userID uuid.UUID, filter LogFilter) ([]LogEntry, error)
}

// AllStorage groups every domain capability.
type AllStorage interface {
	UserStorage
	PreferencesStorage
	LogStorage
}

// Storage is a backend handle with a lifecycle.
type Storage interface {
	AllStorage

	// Close releases the backend's resources.
	Close() error
}

// LogFilter narrows a Logs query.
type LogFilter struct {
	// Before is an inclusive upper bound on CreatedAt.
	Before time.Time
	// Limit caps the result; zero means DefaultLogLimit.
	Limit int
}

// DefaultLogLimit is the number of log entries returned when no limit is set.
const DefaultLogLimit = 50

// EffectiveLimit returns the limit a backend should apply.
func (f LogFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultLogLimit {
		return DefaultLogLimit
	}
	return f.Limit
}
