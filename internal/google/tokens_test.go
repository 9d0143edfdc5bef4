package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/workfloww/fetchfloww/internal/storage"
	"github.com/workfloww/fetchfloww/internal/storage/memory"
)

func newTokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("refresh_token = %q, want refresh-1", r.Form.Get("refresh_token"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}

func newTestCredentials(t *testing.T, tokenURL string) (*Credentials, *memory.Store) {
	t.Helper()

	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := NewTokenEncryption(key)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	store := memory.New()
	return NewCredentials(cfg, store, enc), store
}

func seedUser(t *testing.T, c *Credentials, store *memory.Store, tok *oauth2.Token) *storage.User {
	t.Helper()

	sealed, err := c.Seal(tok)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if sealed.AccessToken == tok.AccessToken {
		t.Fatal("expected sealed access token to differ from plaintext")
	}

	user, err := store.UpsertUser(context.Background(), storage.User{Email: "jane@example.com", Tokens: sealed})
	if err != nil {
		t.Fatal(err)
	}
	return user
}

func TestCredentials_Token_Valid(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	c, store := newTestCredentials(t, srv.URL)
	user := seedUser(t, c, store, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})

	tok, err := c.Token(context.Background(), user)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q, want access-1", tok.AccessToken)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected no refresh, got %d token endpoint calls", calls)
	}
}

func TestCredentials_Token_RefreshesAndPersists(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	c, store := newTestCredentials(t, srv.URL)
	user := seedUser(t, c, store, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Minute),
	})

	tok, err := c.Token(context.Background(), user)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want access-2", tok.AccessToken)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected one refresh, got %d", calls)
	}

	stored, err := store.UserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := c.Open(stored.Tokens)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened.AccessToken != "access-2" {
		t.Errorf("persisted access token = %q, want access-2", opened.AccessToken)
	}
	if opened.RefreshToken != "refresh-1" {
		t.Errorf("refresh token should be kept when Google returns none, got %q", opened.RefreshToken)
	}
	if !opened.Expiry.After(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expected new expiry about an hour out, got %v", opened.Expiry)
	}
}

func TestCredentials_Token_NoRefreshToken(t *testing.T) {
	c, store := newTestCredentials(t, "http://127.0.0.1:0")
	user := seedUser(t, c, store, &oauth2.Token{
		AccessToken: "access-1",
		Expiry:      time.Now().Add(-time.Hour),
	})

	_, err := c.Token(context.Background(), user)
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Token() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestCredentials_HTTPClient(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("Authorization = %q, want Bearer access-1", got)
		}
	}))
	defer api.Close()

	c, store := newTestCredentials(t, srv.URL)
	user := seedUser(t, c, store, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})

	client, err := c.HTTPClient(context.Background(), user)
	if err != nil {
		t.Fatalf("HTTPClient() error = %v", err)
	}
	resp, err := client.Get(api.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"no expiry", time.Time{}, false},
		{"far future", time.Now().Add(time.Hour), false},
		{"within threshold", time.Now().Add(2 * time.Minute), true},
		{"past", time.Now().Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTokenExpired(&oauth2.Token{Expiry: tt.expiry}, DefaultRefreshThreshold); got != tt.want {
				t.Errorf("isTokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPersistingTokenSource(t *testing.T) {
	var saved []string
	src := &persistingTokenSource{
		base:       oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "b"}),
		lastAccess: "a",
		save:       func(tok *oauth2.Token) { saved = append(saved, tok.AccessToken) },
	}

	for i := 0; i < 3; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatal(err)
		}
	}
	if len(saved) != 1 || saved[0] != "b" {
		t.Errorf("expected exactly one save of the changed token, got %v", saved)
	}
}
