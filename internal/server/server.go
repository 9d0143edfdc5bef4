package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/workfloww/fetchfloww/internal/cors"
	"github.com/workfloww/fetchfloww/internal/httpapi"
	"github.com/workfloww/fetchfloww/internal/instrumentation"
	"github.com/workfloww/fetchfloww/internal/logging"
)

// Router and RouteGroup are the contracts route groups are written against.
type (
	Router     = httpapi.Router
	RouteGroup = httpapi.RouteGroup
)

// LivenessMessage is the body of GET /.
const LivenessMessage = "Backend is up and running"

// LivenessPattern is the pattern the liveness route is registered under.
const LivenessPattern = "GET /{$}"

// Default http.Server timeouts.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// ErrServing is returned when the routing table is changed after Start or
// Handler has been called.
var ErrServing = errors.New("application is already serving")

// Config holds the optional collaborators of an Application.
type Config struct {
	// Logger receives startup and shutdown events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records HTTP request counts and durations. May be nil.
	Metrics *instrumentation.Metrics

	// WriteTimeout overrides DefaultWriteTimeout. Attachment downloads and
	// syncs can outlive the default.
	WriteTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Route is one entry of the routing table.
type Route struct {
	Group   string
	Pattern string
}

// Application composes route groups, the liveness check and the CORS policy
// into a single HTTP handler.
type Application struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	groups  []groupMux
	routes  []Route
	seen    map[string]string
	policy  *cors.Policy
	handler http.Handler
	serving bool

	httpServer *http.Server
}

// New constructs an Application with an empty routing table.
func New(config Config) *Application {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	return &Application{
		config: config,
		logger: logging.WithService(logger, "server"),
		seen:   make(map[string]string),
	}
}

// RegisterLiveness binds GET / to a fixed JSON payload.
func (a *Application) RegisterLiveness() error {
	return a.register("liveness", func(r Router) error {
		r.HandleFunc(LivenessPattern, func(w http.ResponseWriter, _ *http.Request) {
			httpapi.WriteJSON(w, http.StatusOK, map[string]string{"message": LivenessMessage})
		})
		return nil
	})
}

// Mount registers every route of group. Routes keep their own path prefixes.
// Each group gets its own ServeMux and requests go to the first group, in
// mount order, with a matching pattern. A pattern already taken verbatim is
// skipped with a warning. Routes are committed only when Register succeeds.
func (a *Application) Mount(group RouteGroup) error {
	if group == nil {
		return fmt.Errorf("route group is nil")
	}
	return a.register(group.Name(), group.Register)
}

func (a *Application) register(name string, fn func(Router) error) error {
	a.mu.Lock()
	serving := a.serving
	a.mu.Unlock()
	if serving {
		return fmt.Errorf("failed to mount %s: %w", name, ErrServing)
	}

	r := &groupRouter{
		app:   a,
		group: name,
		mux:   http.NewServeMux(),
		seen:  make(map[string]bool),
	}
	if err := fn(r); err != nil {
		return fmt.Errorf("failed to mount %s routes: %w", name, err)
	}
	if len(r.errs) > 0 {
		return fmt.Errorf("failed to mount %s routes: %w", name, errors.Join(r.errs...))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serving {
		return fmt.Errorf("failed to mount %s: %w", name, ErrServing)
	}
	a.groups = append(a.groups, groupMux{name: name, mux: r.mux})
	for _, route := range r.routes {
		a.seen[route.Pattern] = name
	}
	a.routes = append(a.routes, r.routes...)

	a.logger.Debug("mounted route group", "group", name, "routes", len(r.routes))
	return nil
}

// InstallCORS wraps the whole handler chain, liveness included, with policy.
func (a *Application) InstallCORS(policy cors.Policy) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serving {
		return fmt.Errorf("failed to install CORS policy: %w", ErrServing)
	}
	for _, origin := range policy.MalformedOrigins() {
		a.logger.Warn("CORS origin can never match a browser Origin header", "origin", origin)
	}
	a.policy = &policy
	return nil
}

// Groups returns the names of the mounted groups in mount order.
func (a *Application) Groups() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.groups))
	for _, g := range a.groups {
		names = append(names, g.name)
	}
	return names
}

// Routes returns the routing table in registration order.
func (a *Application) Routes() []Route {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Route(nil), a.routes...)
}

// Handler freezes the routing table and returns the composed handler.
func (a *Application) Handler() http.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler != nil {
		return a.handler
	}

	var h http.Handler = dispatcher(append([]groupMux(nil), a.groups...))
	h = instrumentationMiddleware(a.config.Metrics, h)
	if a.policy != nil {
		h = a.policy.Handler(h)
	}
	a.handler = h
	a.serving = true
	return h
}

// Start serves the composed handler on addr and blocks until the server
// stops. It returns nil after a graceful Shutdown.
func (a *Application) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      a.config.WriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	a.mu.Lock()
	a.httpServer = srv
	a.mu.Unlock()

	var err error
	if a.config.TLSCertFile != "" && a.config.TLSKeyFile != "" {
		a.logger.Info("starting HTTPS server", "addr", addr, "routes", len(a.Routes()))
		err = srv.ListenAndServeTLS(a.config.TLSCertFile, a.config.TLSKeyFile)
	} else {
		a.logger.Info("starting HTTP server", "addr", addr, "routes", len(a.Routes()))
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops a started server.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Info("shutting down HTTP server")
	return srv.Shutdown(ctx)
}

func (a *Application) owner(pattern string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	group, ok := a.seen[pattern]
	return group, ok
}

// groupRouter is the Router handed to a single group's Register call. It
// stages routes on the group's own mux until Register returns.
type groupRouter struct {
	app    *Application
	group  string
	mux    *http.ServeMux
	seen   map[string]bool
	routes []Route
	errs   []error
}

func (r *groupRouter) Handle(pattern string, handler http.Handler) {
	owner, taken := r.app.owner(pattern)
	if !taken && r.seen[pattern] {
		owner, taken = r.group, true
	}
	if taken {
		r.app.logger.Warn("route already registered, skipping",
			"group", r.group,
			"pattern", pattern,
			"owner", owner)
		return
	}
	if err := r.add(pattern, handler); err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.seen[pattern] = true
	r.routes = append(r.routes, Route{Group: r.group, Pattern: pattern})
}

func (r *groupRouter) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	r.Handle(pattern, http.HandlerFunc(handler))
}

// add registers pattern on the group's mux. ServeMux panics on invalid
// patterns and on conflicts within the group.
func (r *groupRouter) add(pattern string, handler http.Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pattern %q: %v", pattern, rec)
		}
	}()
	r.mux.Handle(pattern, handler)
	return nil
}

// groupMux is the routing table of one mounted group.
type groupMux struct {
	name string
	mux  *http.ServeMux
}

// dispatcher routes a request to the first group, in mount order, whose mux
// has a matching pattern. A later group never takes a request from an
// earlier one, however specific its pattern.
type dispatcher []groupMux

func (d dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, g := range d {
		if _, pattern := g.mux.Handler(r); pattern != "" {
			g.mux.ServeHTTP(w, r)
			return
		}
	}

	// No pattern matched. The first group that knows the path under another
	// method answers 405.
	for _, g := range d {
		h, _ := g.mux.Handler(r)
		sw := &statusWriter{header: make(http.Header)}
		h.ServeHTTP(sw, r)
		if sw.code == http.StatusMethodNotAllowed {
			g.mux.ServeHTTP(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

// statusWriter discards a response and keeps its status code.
type statusWriter struct {
	header http.Header
	code   int
}

func (w *statusWriter) Header() http.Header { return w.header }

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return len(b), nil
}
