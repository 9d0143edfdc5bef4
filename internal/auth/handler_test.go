package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/workfloww/fetchfloww/internal/google"
	"github.com/workfloww/fetchfloww/internal/storage/memory"
)

const testFrontend = "https://fetchfloww.workfloww.ai"

type handlerFixture struct {
	handler  *Handler
	mux      *http.ServeMux
	store    *memory.Store
	states   *MemoryStateStore
	sessions *SessionManager
	verifier string
}

func newHandlerFixture(t *testing.T, info *google.UserInfo, infoErr error) *handlerFixture {
	t.Helper()

	f := &handlerFixture{}
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		f.verifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(tokenSrv.Close)

	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8000/auth/callback",
		Scopes:       google.DefaultOAuthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenSrv.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	enc, _ := google.NewTokenEncryption(nil)
	f.store = memory.New()
	creds := google.NewCredentials(cfg, f.store, enc)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.states = NewMemoryStateStore(ctx, time.Minute, nil)

	var err error
	f.sessions, err = NewSessionManager(testSecret, time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}

	f.handler, err = NewHandler(Config{FrontendURL: testFrontend}, creds, f.store, f.states, f.sessions,
		WithUserInfoFetcher(func(context.Context, *http.Client) (*google.UserInfo, error) {
			return info, infoErr
		}))
	if err != nil {
		t.Fatal(err)
	}

	f.mux = http.NewServeMux()
	if err := f.handler.Register(f.mux); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *handlerFixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

// login runs /auth/login and returns the state it issued.
func (f *handlerFixture) login(t *testing.T, redirect string) string {
	t.Helper()
	target := "/auth/login"
	if redirect != "" {
		target += "?redirect=" + url.QueryEscape(redirect)
	}
	w := f.do(httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	return loc.Query().Get("state")
}

func TestNewHandler_Validation(t *testing.T) {
	enc, _ := google.NewTokenEncryption(nil)
	store := memory.New()
	creds := google.NewCredentials(&oauth2.Config{}, store, enc)
	sessions, _ := NewSessionManager(testSecret, time.Hour, false)
	states := NewMemoryStateStore(context.Background(), time.Minute, nil)

	if _, err := NewHandler(Config{FrontendURL: testFrontend}, nil, store, states, sessions); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewHandler(Config{FrontendURL: "not a url"}, creds, store, states, sessions); err == nil {
		t.Error("expected error for relative frontend url")
	}
	h, err := NewHandler(Config{FrontendURL: testFrontend}, creds, store, states, sessions)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if h.Name() != "auth" {
		t.Errorf("Name() = %q, want auth", h.Name())
	}
}

func TestHandler_Login(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)

	w := f.do(httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	q := loc.Query()

	checks := map[string]string{
		"client_id":             "client",
		"access_type":           "offline",
		"prompt":                "consent",
		"code_challenge_method": "S256",
		"response_type":         "code",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if q.Get("state") == "" || q.Get("code_challenge") == "" {
		t.Errorf("missing state or code_challenge in %s", loc)
	}
	if !strings.Contains(q.Get("scope"), "https://www.googleapis.com/auth/gmail.readonly") {
		t.Errorf("scope = %q, want gmail.readonly", q.Get("scope"))
	}
	if f.states.Len() != 1 {
		t.Errorf("stored states = %d, want 1", f.states.Len())
	}
}

func TestHandler_CallbackSuccess(t *testing.T) {
	f := newHandlerFixture(t, &google.UserInfo{Email: "Jane@Example.com", Name: "Jane", Picture: "https://pic"}, nil)
	state := f.login(t, "/dashboard")

	w := f.do(httptest.NewRequest(http.MethodGet, "/auth/callback?code=good-code&state="+state, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (body %s)", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != testFrontend+"/dashboard" {
		t.Errorf("Location = %q", got)
	}
	if f.verifier == "" {
		t.Error("token exchange did not carry a code_verifier")
	}

	user, err := f.store.UserByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if user.Tokens.RefreshToken != "refresh-1" {
		t.Errorf("stored refresh token = %q", user.Tokens.RefreshToken)
	}

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("session cookie not set")
	}

	// The session resolves through /auth/me.
	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.AddCookie(session)
	me := f.do(r)
	if me.Code != http.StatusOK {
		t.Fatalf("/auth/me status = %d", me.Code)
	}
	var body struct {
		User UserResponse `json:"user"`
	}
	if err := json.Unmarshal(me.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.User.ID != user.ID.String() || body.User.Name != "Jane" {
		t.Errorf("/auth/me = %+v", body.User)
	}

	// A state works exactly once.
	again := f.do(httptest.NewRequest(http.MethodGet, "/auth/callback?code=good-code&state="+state, nil))
	if again.Code != http.StatusBadRequest {
		t.Errorf("replayed state status = %d, want 400", again.Code)
	}
}

func TestHandler_CallbackFailures(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		infoErr    error
		wantStatus int
	}{
		{
			name:       "google error",
			query:      func(string) string { return "error=access_denied" },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown state",
			query:      func(string) string { return "code=good-code&state=bogus" },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing code",
			query:      func(s string) string { return "state=" + s },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "exchange rejected",
			query:      func(s string) string { return "code=bad-code&state=" + s },
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "profile lookup fails",
			query:      func(s string) string { return "code=good-code&state=" + s },
			infoErr:    errors.New("boom"),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, &google.UserInfo{Email: "jane@example.com"}, tt.infoErr)
			state := f.login(t, "")

			w := f.do(httptest.NewRequest(http.MethodGet, "/auth/callback?"+tt.query(state), nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			for _, c := range w.Result().Cookies() {
				if c.Name == SessionCookieName {
					t.Error("session cookie set on failed callback")
				}
			}
		})
	}
}

func TestHandler_Logout(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)

	w := f.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"success":true}` {
		t.Errorf("body = %s", w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName || cookies[0].MaxAge >= 0 {
		t.Errorf("expected an expired session cookie, got %+v", cookies)
	}
}

func TestHandler_MeUnauthorized(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	w := f.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_RateLimited(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	WithRateLimiter(NewRateLimiter(0.001, 1, false))(f.handler)
	f.mux = http.NewServeMux()
	if err := f.handler.Register(f.mux); err != nil {
		t.Fatal(err)
	}

	first := f.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	second := f.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if first.Code != http.StatusOK {
		t.Errorf("first status = %d, want 200", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: testFrontend},
		{raw: "/dashboard", want: testFrontend + "/dashboard"},
		{raw: "/logs?date_to=2024-01-01", want: testFrontend + "/logs?date_to=2024-01-01"},
		{raw: testFrontend + "/settings", want: testFrontend + "/settings"},
		{raw: "https://evil.example.com/", want: testFrontend},
		{raw: "//evil.example.com", want: testFrontend},
		{raw: "dashboard", want: testFrontend},
		{raw: "javascript:alert(1)", want: testFrontend},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := safeRedirect(tt.raw, testFrontend); got != tt.want {
				t.Errorf("safeRedirect(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
