package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// SessionCookieName carries the session JWT.
	SessionCookieName = "fetchfloww_session"
	// DefaultSessionTTL is how long a sign-in lasts.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// MinSessionSecretLength is the shortest accepted HMAC secret.
	MinSessionSecretLength = 32

	sessionIssuer = "fetchfloww"
)

// ErrInvalidSession is returned for missing, malformed, expired or
// tampered session tokens.
var ErrInvalidSession = errors.New("invalid session")

// SessionClaims are the JWT claims of a session token.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *SessionClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// SessionManager issues and verifies session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionManager requires a secret of at least 32 bytes. secure marks
// the cookie Secure and SameSite=None for cross-site frontends.
func NewSessionManager(secret []byte, ttl time.Duration, secure bool) (*SessionManager, error) {
	if len(secret) < MinSessionSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes, got %d", MinSessionSecretLength, len(secret))
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{secret: secret, ttl: ttl, secure: secure, now: time.Now}, nil
}

// Issue signs a session for the user.
func (m *SessionManager) Issue(userID uuid.UUID, email string) (string, error) {
	now := m.now()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("could not sign session: %w", err)
	}
	return signed, nil
}

// Parse verifies a session token and returns its claims.
func (m *SessionManager) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSession
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject: %w", ErrInvalidSession, err)
	}
	return claims, nil
}

func (m *SessionManager) sameSite() http.SameSite {
	if m.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// Cookie wraps a signed token in the session cookie.
func (m *SessionManager) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite(),
	}
}

// ClearCookie expires the session cookie.
func (m *SessionManager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite(),
	}
}
