package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workfloww/fetchfloww/internal/httpapi"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

type contextKey string

const userContextKey contextKey = "fetchfloww_user"

// WithUser stores the signed-in user in ctx.
func WithUser(ctx context.Context, user *storage.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the user placed by RequireSession.
func UserFromContext(ctx context.Context) (*storage.User, bool) {
	user, ok := ctx.Value(userContextKey).(*storage.User)
	return user, ok && user != nil
}

// Authenticator resolves session tokens into users.
type Authenticator struct {
	sessions *SessionManager
	users    storage.UserStorage
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(sessions *SessionManager, users storage.UserStorage, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{sessions: sessions, users: users, logger: logger}
}

// sessionToken reads the session from the Authorization header, falling
// back to the session cookie.
func sessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate returns the user behind the request's session.
func (a *Authenticator) Authenticate(r *http.Request) (*storage.User, error) {
	token := sessionToken(r)
	if token == "" {
		return nil, ErrInvalidSession
	}

	claims, err := a.sessions.Parse(token)
	if err != nil {
		return nil, err
	}
	id, _ := claims.UserID()

	user, err := a.users.UserByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	return user, err
}

// RequireSession rejects requests without a valid session with 401 and
// puts the user in the request context otherwise.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Authenticate(r)
		if errors.Is(err, ErrInvalidSession) {
			httpapi.WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err != nil {
			a.logger.Error("failed to load session user", logging.Path(r.URL.Path), logging.Err(err))
			httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
