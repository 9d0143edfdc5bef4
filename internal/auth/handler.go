package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/workfloww/fetchfloww/internal/google"
	"github.com/workfloww/fetchfloww/internal/httpapi"
	"github.com/workfloww/fetchfloww/internal/instrumentation"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

// UserInfoFetcher loads the Google profile for an authenticated client.
type UserInfoFetcher func(ctx context.Context, client *http.Client) (*google.UserInfo, error)

// Config configures the auth route group.
type Config struct {
	// FrontendURL is where users land after sign-in when no redirect was
	// requested, and the only origin redirects may point at.
	FrontendURL string
	// StateTTL bounds a sign-in attempt. Defaults to DefaultStateTTL.
	StateTTL time.Duration
}

// Handler is the auth route group.
type Handler struct {
	config      Config
	credentials *google.Credentials
	users       storage.UserStorage
	states      StateStore
	sessions    *SessionManager
	auth        *Authenticator
	limiter     *RateLimiter
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
	userInfo    UserInfoFetcher
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimiter limits every /auth route per client IP.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Handler) { h.limiter = rl }
}

// WithMetrics records sign-in outcomes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithUserInfoFetcher replaces the Google profile lookup.
func WithUserInfoFetcher(f UserInfoFetcher) Option {
	return func(h *Handler) { h.userInfo = f }
}

// NewHandler builds the auth route group.
func NewHandler(config Config, credentials *google.Credentials, users storage.UserStorage, states StateStore, sessions *SessionManager, opts ...Option) (*Handler, error) {
	if credentials == nil || users == nil || states == nil || sessions == nil {
		return nil, errors.New("auth: credentials, users, states and sessions are required")
	}
	if _, err := url.ParseRequestURI(config.FrontendURL); err != nil {
		return nil, errors.New("auth: frontend url must be an absolute URL")
	}
	if config.StateTTL <= 0 {
		config.StateTTL = DefaultStateTTL
	}

	h := &Handler{
		config:      config,
		credentials: credentials,
		users:       users,
		states:      states,
		sessions:    sessions,
		logger:      slog.Default(),
		userInfo: func(ctx context.Context, client *http.Client) (*google.UserInfo, error) {
			return google.FetchUserInfo(ctx, client)
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.WithGroup(h.logger, h.Name())
	h.auth = NewAuthenticator(sessions, users, h.logger)
	return h, nil
}

// Name implements httpapi.RouteGroup.
func (h *Handler) Name() string { return "auth" }

// Authenticator returns the session middleware for other route groups.
func (h *Handler) Authenticator() *Authenticator { return h.auth }

// Register implements httpapi.RouteGroup.
func (h *Handler) Register(r httpapi.Router) error {
	wrap := func(next http.Handler) http.Handler {
		if h.limiter == nil {
			return next
		}
		return h.limiter.Middleware(next)
	}

	r.Handle("GET /auth/login", wrap(http.HandlerFunc(h.handleLogin)))
	r.Handle("GET /auth/callback", wrap(http.HandlerFunc(h.handleCallback)))
	r.Handle("GET /auth/me", wrap(h.auth.RequireSession(http.HandlerFunc(h.handleMe))))
	r.Handle("POST /auth/logout", wrap(http.HandlerFunc(h.handleLogout)))
	return nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		h.logger.Error("failed to generate code verifier", logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.states.Save(r.Context(), &AuthorizationState{
		State:     state,
		Verifier:  verifier,
		Redirect:  safeRedirect(r.URL.Query().Get("redirect"), h.config.FrontendURL),
		ExpiresAt: time.Now().Add(h.config.StateTTL),
	}); err != nil {
		h.logger.Error("failed to save authorization state", logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	authURL := h.credentials.OAuthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("code_challenge", GenerateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		h.metrics.RecordOAuthLogin(ctx, instrumentation.ResultFailure)
		h.logger.Info("google sign-in declined", slog.String("reason", e))
		httpapi.WriteError(w, http.StatusBadRequest, "Sign-in was not completed: "+e)
		return
	}

	st, err := h.states.Consume(ctx, q.Get("state"))
	if err != nil {
		h.metrics.RecordOAuthLogin(ctx, instrumentation.ResultFailure)
		if errors.Is(err, ErrStateNotFound) || errors.Is(err, ErrStateExpired) {
			httpapi.WriteError(w, http.StatusBadRequest, "Invalid or expired state")
			return
		}
		h.logger.Error("failed to consume authorization state", logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.metrics.RecordOAuthLogin(ctx, instrumentation.ResultFailure)
		httpapi.WriteError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	tok, err := h.credentials.Exchange(ctx, code, st.Verifier)
	if err != nil {
		h.metrics.RecordOAuthLogin(ctx, instrumentation.ResultFailure)
		h.logger.Warn("authorization code exchange failed", logging.Err(err))
		httpapi.WriteError(w, http.StatusBadGateway, "Failed to exchange authorization code")
		return
	}

	info, err := h.userInfo(ctx, h.credentials.Client(ctx, tok))
	if err != nil {
		h.metrics.RecordOAuthLogin(ctx, instrumentation.ResultFailure)
		h.logger.Warn("failed to fetch google profile", logging.Err(err))
		httpapi.WriteError(w, http.StatusBadGateway, "Failed to fetch Google profile")
		return
	}

	sealed, err := h.credentials.Seal(tok)
	if err != nil {
		h.logger.Error("failed to seal tokens", logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user, err := h.users.UpsertUser(ctx, storage.User{
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
		Tokens:  sealed,
	})
	if err != nil {
		h.logger.Error("failed to save user", logging.UserHash(info.Email), logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	session, err := h.sessions.Issue(user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to issue session", logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.metrics.RecordOAuthLogin(ctx, instrumentation.ResultSuccess)
	h.logger.Info("user signed in", logging.UserHash(user.Email))

	http.SetCookie(w, h.sessions.Cookie(session))
	http.Redirect(w, r, st.Redirect, http.StatusFound)
}

// UserResponse is the public profile returned by /auth/me.
type UserResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	httpapi.WriteJSON(w, http.StatusOK, map[string]UserResponse{
		"user": {
			ID:      user.ID.String(),
			Email:   user.Email,
			Name:    user.Name,
			Picture: user.Picture,
		},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, h.sessions.ClearCookie())
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// safeRedirect resolves a post-login redirect. Relative paths are joined to
// the frontend; absolute URLs must share the frontend's origin. Anything
// else falls back to the frontend root.
func safeRedirect(raw, frontendURL string) string {
	if raw == "" {
		return frontendURL
	}

	front, err := url.Parse(frontendURL)
	if err != nil {
		return frontendURL
	}
	target, err := url.Parse(raw)
	if err != nil {
		return frontendURL
	}

	if target.Scheme == "" && target.Host == "" {
		if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
			return frontendURL
		}
		return front.ResolveReference(target).String()
	}

	if target.Scheme == front.Scheme && target.Host == front.Host {
		return target.String()
	}
	return frontendURL
}
