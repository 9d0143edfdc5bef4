package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workfloww/fetchfloww/internal/cors"
)

// stubGroup registers a fixed set of patterns, each answering with the
// group's name.
type stubGroup struct {
	name     string
	patterns []string
	err      error
	calls    int
}

func (g *stubGroup) Name() string { return g.name }

func (g *stubGroup) Register(r Router) error {
	for _, p := range g.patterns {
		r.HandleFunc(p, func(w http.ResponseWriter, _ *http.Request) {
			g.calls++
			_, _ = io.WriteString(w, g.name)
		})
	}
	return g.err
}

func newTestApplication(t *testing.T, logs *bytes.Buffer) *Application {
	t.Helper()
	var w io.Writer = io.Discard
	if logs != nil {
		w = logs
	}
	return New(Config{Logger: slog.New(slog.NewTextHandler(w, nil))})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLiveness(t *testing.T) {
	app := newTestApplication(t, nil)
	require.NoError(t, app.RegisterLiveness())
	h := app.Handler()

	for _, target := range []string{"/", "/?probe=1&x=y"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("X-Anything", "ignored")
		rec := serve(h, req)

		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.JSONEq(t, `{"message":"Backend is up and running"}`, rec.Body.String(), target)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), target)
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountOrder(t *testing.T) {
	app := newTestApplication(t, nil)
	authGroup := &stubGroup{name: "auth", patterns: []string{"GET /auth/login", "GET /auth/callback"}}
	attachments := &stubGroup{name: "attachments", patterns: []string{"GET /attachments"}}
	appGroup := &stubGroup{name: "app", patterns: []string{"GET /api/logs", "POST /api/preferences"}}

	require.NoError(t, app.RegisterLiveness())
	require.NoError(t, app.Mount(authGroup))
	require.NoError(t, app.Mount(attachments))
	require.NoError(t, app.Mount(appGroup))

	assert.Equal(t, []string{"liveness", "auth", "attachments", "app"}, app.Groups())
	assert.Equal(t, []Route{
		{Group: "liveness", Pattern: LivenessPattern},
		{Group: "auth", Pattern: "GET /auth/login"},
		{Group: "auth", Pattern: "GET /auth/callback"},
		{Group: "attachments", Pattern: "GET /attachments"},
		{Group: "app", Pattern: "GET /api/logs"},
		{Group: "app", Pattern: "POST /api/preferences"},
	}, app.Routes())

	h := app.Handler()
	tests := []struct {
		method, target, want string
	}{
		{http.MethodGet, "/auth/login", "auth"},
		{http.MethodGet, "/attachments", "attachments"},
		{http.MethodPost, "/api/preferences", "app"},
	}
	for _, tt := range tests {
		rec := serve(h, httptest.NewRequest(tt.method, tt.target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, tt.target)
		assert.Equal(t, tt.want, rec.Body.String(), tt.target)
	}
}

func TestMount_DuplicatePatternFirstWins(t *testing.T) {
	var logs bytes.Buffer
	app := newTestApplication(t, &logs)
	first := &stubGroup{name: "auth", patterns: []string{"GET /shared"}}
	second := &stubGroup{name: "app", patterns: []string{"GET /shared", "GET /api/own"}}

	require.NoError(t, app.Mount(first))
	require.NoError(t, app.Mount(second))

	assert.Equal(t, []Route{
		{Group: "auth", Pattern: "GET /shared"},
		{Group: "app", Pattern: "GET /api/own"},
	}, app.Routes())
	assert.Contains(t, logs.String(), "route already registered")

	rec := serve(app.Handler(), httptest.NewRequest(http.MethodGet, "/shared", nil))
	assert.Equal(t, "auth", rec.Body.String())
}

func TestMount_OverlapFirstMountedWins(t *testing.T) {
	tests := []struct {
		name   string
		first  []string
		second []string
		method string
		target string
	}{
		{
			name:   "prefix overlap",
			first:  []string{"GET /shared/"},
			second: []string{"GET /shared/x"},
			method: http.MethodGet,
			target: "/shared/x",
		},
		{
			name:   "method-less before method",
			first:  []string{"/dup"},
			second: []string{"GET /dup"},
			method: http.MethodGet,
			target: "/dup",
		},
		{
			name:   "same-shape wildcards",
			first:  []string{"GET /items/{id}"},
			second: []string{"GET /items/{name}"},
			method: http.MethodGet,
			target: "/items/42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApplication(t, nil)
			first := &stubGroup{name: "auth", patterns: tt.first}
			second := &stubGroup{name: "app", patterns: tt.second}
			require.NoError(t, app.Mount(first))
			require.NoError(t, app.Mount(second))

			rec := serve(app.Handler(), httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "auth", rec.Body.String())
			assert.Zero(t, second.calls)
		})
	}

	t.Run("later group serves what earlier ones do not match", func(t *testing.T) {
		app := newTestApplication(t, nil)
		require.NoError(t, app.Mount(&stubGroup{name: "auth", patterns: []string{"GET /shared/x"}}))
		require.NoError(t, app.Mount(&stubGroup{name: "app", patterns: []string{"GET /shared/"}}))

		rec := serve(app.Handler(), httptest.NewRequest(http.MethodGet, "/shared/y", nil))
		assert.Equal(t, "app", rec.Body.String())
	})
}

func TestMount_MethodNotAllowed(t *testing.T) {
	app := newTestApplication(t, nil)
	require.NoError(t, app.RegisterLiveness())
	require.NoError(t, app.Mount(&stubGroup{name: "auth", patterns: []string{"POST /auth/logout"}}))
	h := app.Handler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMount_Errors(t *testing.T) {
	t.Run("register error", func(t *testing.T) {
		app := newTestApplication(t, nil)
		boom := errors.New("boom")
		err := app.Mount(&stubGroup{name: "auth", err: boom})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, app.Groups())
	})

	t.Run("nil group", func(t *testing.T) {
		app := newTestApplication(t, nil)
		assert.Error(t, app.Mount(nil))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		app := newTestApplication(t, nil)
		err := app.Mount(&stubGroup{name: "app", patterns: []string{"GET /api/{bad"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to mount app routes")
		assert.Empty(t, app.Routes())
	})

	t.Run("partial registration is discarded", func(t *testing.T) {
		app := newTestApplication(t, nil)
		err := app.Mount(&stubGroup{name: "app", patterns: []string{"GET /ok", "GET /bad/{"}})
		require.Error(t, err)
		assert.Empty(t, app.Groups())
		assert.Empty(t, app.Routes())

		rec := serve(app.Handler(), httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("register error after routes", func(t *testing.T) {
		app := newTestApplication(t, nil)
		boom := errors.New("boom")
		err := app.Mount(&stubGroup{name: "app", patterns: []string{"GET /ok"}, err: boom})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, app.Routes())
	})

	t.Run("conflict within a group", func(t *testing.T) {
		app := newTestApplication(t, nil)
		err := app.Mount(&stubGroup{name: "app", patterns: []string{"GET /items/{id}", "GET /items/{name}"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to mount app routes")
		assert.Empty(t, app.Routes())
	})

	t.Run("after serving", func(t *testing.T) {
		app := newTestApplication(t, nil)
		_ = app.Handler()
		assert.ErrorIs(t, app.Mount(&stubGroup{name: "late"}), ErrServing)
		assert.ErrorIs(t, app.RegisterLiveness(), ErrServing)
		assert.ErrorIs(t, app.InstallCORS(cors.DefaultPolicy()), ErrServing)
	})
}

func TestCORS(t *testing.T) {
	var logs bytes.Buffer
	app := newTestApplication(t, &logs)
	group := &stubGroup{name: "app", patterns: []string{"POST /api/preferences"}}
	require.NoError(t, app.RegisterLiveness())
	require.NoError(t, app.Mount(group))
	require.NoError(t, app.InstallCORS(cors.DefaultPolicy()))
	h := app.Handler()

	assert.Contains(t, logs.String(), "https://fetchfloww.vercel.app/")

	t.Run("preflight never reaches the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/preferences", nil)
		req.Header.Set("Origin", "https://fetchfloww.workfloww.ai")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type, x-custom")
		rec := serve(h, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://fetchfloww.workfloww.ai", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "content-type, x-custom", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Zero(t, group.calls)
	})

	t.Run("liveness is wrapped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://fetchfloww.workfloww.ai")
		rec := serve(h, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://fetchfloww.workfloww.ai", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("trailing slash entry never matches", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://fetchfloww.vercel.app")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := serve(h, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin on actual request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := serve(h, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestInstrumentationMiddleware(t *testing.T) {
	t.Run("passes through without metrics", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			called = true
		})

		handler := instrumentationMiddleware(nil, next)
		serve(handler, httptest.NewRequest(http.MethodGet, "/test", nil))

		if !called {
			t.Error("next handler was not called")
		}
	})

	t.Run("records matched pattern", func(t *testing.T) {
		provider := createTestProvider(t)
		app := New(Config{
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
			Metrics: provider.Metrics(),
		})
		require.NoError(t, app.RegisterLiveness())
		h := app.Handler()

		serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		serve(h, httptest.NewRequest(http.MethodGet, "/missing", nil))

		rec := serve(provider.MetricsHandler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
		body := rec.Body.String()
		assert.Contains(t, body, `route="GET /{$}"`)
		assert.Contains(t, body, `route="unmatched"`)
		assert.NotContains(t, body, `route="/missing"`)
	})
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := newResponseWriter(recorder)

		rw.WriteHeader(http.StatusNotFound)

		if rw.statusCode != http.StatusNotFound {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusNotFound)
		}
	})

	t.Run("defaults to 200", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())

		if rw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusOK)
		}
	})

	t.Run("keeps the first status", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())

		_, _ = rw.Write([]byte("body"))
		rw.WriteHeader(http.StatusInternalServerError)

		if rw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusOK)
		}
	})

	t.Run("passes write header to underlying writer", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := newResponseWriter(recorder)

		rw.WriteHeader(http.StatusCreated)

		if recorder.Code != http.StatusCreated {
			t.Errorf("recorder.Code = %d, want %d", recorder.Code, http.StatusCreated)
		}
	})
}

func TestStartAndShutdown(t *testing.T) {
	app := newTestApplication(t, nil)
	require.NoError(t, app.RegisterLiveness())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(addr) }()

	var resp *http.Response
	for range 50 {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), LivenessMessage))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
