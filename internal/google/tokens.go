package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/workfloww/fetchfloww/internal/instrumentation"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

// DefaultRefreshThreshold refreshes access tokens that expire within it.
const DefaultRefreshThreshold = 5 * time.Minute

// ErrNoRefreshToken is returned when an expired token cannot be refreshed.
var ErrNoRefreshToken = errors.New("no refresh token available")

// Credentials turns stored users into authenticated Google HTTP clients.
type Credentials struct {
	config     *oauth2.Config
	users      storage.UserStorage
	enc        *TokenEncryption
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	httpClient *http.Client
	threshold  time.Duration
}

// CredentialsOption configures Credentials.
type CredentialsOption func(*Credentials)

// WithMetrics records refresh outcomes.
func WithMetrics(m *instrumentation.Metrics) CredentialsOption {
	return func(c *Credentials) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CredentialsOption {
	return func(c *Credentials) { c.logger = l }
}

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(hc *http.Client) CredentialsOption {
	return func(c *Credentials) { c.httpClient = hc }
}

// NewCredentials creates a Credentials. enc may be a disabled encryptor.
func NewCredentials(config *oauth2.Config, users storage.UserStorage, enc *TokenEncryption, opts ...CredentialsOption) *Credentials {
	c := &Credentials{
		config:    config,
		users:     users,
		enc:       enc,
		logger:    slog.Default(),
		threshold: DefaultRefreshThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OAuthConfig returns the underlying client configuration.
func (c *Credentials) OAuthConfig() *oauth2.Config {
	return c.config
}

func (c *Credentials) context(ctx context.Context) context.Context {
	if c.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	return ctx
}

// Exchange trades an authorization code (with its PKCE verifier) for tokens.
func (c *Credentials) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := c.config.Exchange(c.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// Client returns an HTTP client carrying tok, for calls made before the user
// is persisted (the profile lookup during sign-in).
func (c *Credentials) Client(ctx context.Context, tok *oauth2.Token) *http.Client {
	return oauth2.NewClient(c.context(ctx), oauth2.StaticTokenSource(tok))
}

// Seal encrypts tok for storage.
func (c *Credentials) Seal(tok *oauth2.Token) (storage.Tokens, error) {
	access, err := c.enc.Encrypt(tok.AccessToken)
	if err != nil {
		return storage.Tokens{}, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := c.enc.Encrypt(tok.RefreshToken)
	if err != nil {
		return storage.Tokens{}, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return storage.Tokens{AccessToken: access, RefreshToken: refresh, Expiry: tok.Expiry}, nil
}

// Open decrypts stored tokens.
func (c *Credentials) Open(tokens storage.Tokens) (*oauth2.Token, error) {
	access, err := c.enc.Decrypt(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := c.enc.Decrypt(tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       tokens.Expiry,
	}, nil
}

// Token returns a usable access token for user, refreshing and persisting
// it when it expires within the refresh threshold.
func (c *Credentials) Token(ctx context.Context, user *storage.User) (*oauth2.Token, error) {
	tok, err := c.Open(user.Tokens)
	if err != nil {
		return nil, err
	}
	if !isTokenExpired(tok, c.threshold) {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultFailure)
		return nil, ErrNoRefreshToken
	}

	// An expiry in the past makes the oauth2 token source go to the token
	// endpoint.
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Unix(1, 0)}
	fresh, err := c.config.TokenSource(c.context(ctx), stale).Token()
	if err != nil {
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultFailure)
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultSuccess)

	c.persist(ctx, user, fresh)
	return fresh, nil
}

// HTTPClient returns a client authenticated as user. Tokens refreshed while
// the client is in use are written back to storage.
func (c *Credentials) HTTPClient(ctx context.Context, user *storage.User) (*http.Client, error) {
	tok, err := c.Token(ctx, user)
	if err != nil {
		return nil, err
	}

	src := &persistingTokenSource{
		base:       c.config.TokenSource(c.context(ctx), tok),
		lastAccess: tok.AccessToken,
		save:       func(t *oauth2.Token) { c.persist(ctx, user, t) },
	}
	return oauth2.NewClient(c.context(ctx), src), nil
}

func (c *Credentials) persist(ctx context.Context, user *storage.User, tok *oauth2.Token) {
	sealed, err := c.Seal(tok)
	if err == nil {
		err = c.users.UpdateTokens(ctx, user.ID, sealed)
	}
	if err != nil {
		// The caller still holds a valid token; only the next request pays.
		c.logger.Warn("failed to persist refreshed token",
			logging.UserHash(user.Email),
			logging.Err(err))
		return
	}
	c.logger.Debug("persisted refreshed token",
		logging.UserHash(user.Email),
		slog.Time("expiry", tok.Expiry))
}

// isTokenExpired reports whether tok expires within threshold. Tokens
// without an expiry never expire.
func isTokenExpired(tok *oauth2.Token, threshold time.Duration) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(tok.Expiry)
}

type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token)

	mu         sync.Mutex
	lastAccess string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.lastAccess
	s.lastAccess = tok.AccessToken
	s.mu.Unlock()

	if changed {
		s.save(tok)
	}
	return tok, nil
}
