package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/workfloww/fetchfloww/internal/app"
	"github.com/workfloww/fetchfloww/internal/auth"
	"github.com/workfloww/fetchfloww/internal/cors"
	"github.com/workfloww/fetchfloww/internal/gmail"
	"github.com/workfloww/fetchfloww/internal/google"
	"github.com/workfloww/fetchfloww/internal/instrumentation"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/server"
	"github.com/workfloww/fetchfloww/internal/storage"
	"github.com/workfloww/fetchfloww/internal/storage/memory"
	"github.com/workfloww/fetchfloww/internal/storage/postgres"
)

const (
	storageTypeMemory   = "memory"
	storageTypePostgres = "postgres"

	stateStoreMemory = "memory"
	stateStoreRedis  = "redis"

	// callbackPath is the auth route Google redirects back to.
	callbackPath = "/auth/callback"

	defaultRateLimitRPS   = 10
	defaultRateLimitBurst = 20
	cleanupInterval       = time.Minute
)

// ServeConfig holds everything serve needs to build the application.
type ServeConfig struct {
	HTTPAddr    string
	BaseURL     string
	FrontendURL string

	GoogleClientID     string
	GoogleClientSecret string

	SessionSecret string
	// EncryptionKey is base64 encoded; empty disables token encryption.
	EncryptionKey string

	StorageType string
	DatabaseURL string
	AutoMigrate bool

	StateStore string
	RedisURL   string

	CORSOrigins []string
	TrustProxy  bool

	WriteTimeout time.Duration
	TLSCertFile  string
	TLSKeyFile   string

	Metrics MetricsConfig
	Debug   bool
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// Validate reports every configuration problem at once.
func (c ServeConfig) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if err := validateBaseURL(c.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("frontend url must be an absolute URL (got %q)", c.FrontendURL))
	}
	if c.GoogleClientID == "" {
		errs = append(errs, errors.New("google client id is required"))
	}
	if c.GoogleClientSecret == "" {
		errs = append(errs, errors.New("google client secret is required"))
	}
	if len(c.SessionSecret) < auth.MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("session secret must be at least %d bytes", auth.MinSessionSecretLength))
	}
	if _, err := google.EncryptionKeyFromBase64(c.EncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("invalid encryption key: %w", err))
	}

	switch c.StorageType {
	case storageTypeMemory:
	case storageTypePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database url is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type %q (supported: memory, postgres)", c.StorageType))
	}

	switch c.StateStore {
	case stateStoreMemory:
	case stateStoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for the redis state store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported state store %q (supported: memory, redis)", c.StateStore))
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert file and key file must be set together"))
	}

	return errors.Join(errs...)
}

// secureCookies reports whether session cookies need the Secure attribute.
func (c ServeConfig) secureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

func newServeCmd() *cobra.Command {
	return newServeCmdWithConfig(&ServeConfig{})
}

// newServeCmdWithConfig binds the serve flags to cfg.
func newServeCmdWithConfig(cfg *ServeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fetchfloww backend",
		Long: `Start the fetchfloww HTTP backend.

The server exposes:
  GET /                       liveness
  /auth/...                   Google sign-in
  /attachments/...            Gmail attachment search, download and sync
  /api/...                    preferences, activity logs and folder listings

Every flag can also be set through the environment variable named in its
help text. A .env file in the working directory is loaded first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadServeEnv(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := logging.NewLogger(os.Stderr, cfg.Debug)
			slog.SetDefault(logger)

			return runServe(ctx, *cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.HTTPAddr, "http-addr", ":8000", "HTTP server address. Can also use HTTP_ADDR env var.")
	f.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL of this backend, used for the OAuth redirect. Defaults to http://localhost<http-addr>. Can also use BASE_URL env var.")
	f.StringVar(&cfg.FrontendURL, "frontend-url", "https://fetchfloww.workfloww.ai", "Frontend URL users return to after sign-in. Can also use FRONTEND_URL env var.")
	f.StringVar(&cfg.GoogleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	f.StringVar(&cfg.SessionSecret, "session-secret", "", "HMAC secret for session tokens (at least 32 bytes). Can also use SESSION_SECRET env var.")
	f.StringVar(&cfg.EncryptionKey, "encryption-key", "", "AES-256 key for stored Google tokens (32 bytes, base64 encoded). Generate with: openssl rand -base64 32. Can also use ENCRYPTION_KEY env var.")
	f.StringVar(&cfg.StorageType, "storage-type", storageTypeMemory, "Storage backend: memory or postgres. Can also use STORAGE_TYPE env var.")
	f.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL. Can also use DATABASE_URL env var.")
	f.BoolVar(&cfg.AutoMigrate, "auto-migrate", true, "Apply database migrations on startup (postgres only). Can also use AUTO_MIGRATE env var.")
	f.StringVar(&cfg.StateStore, "state-store", stateStoreMemory, "Sign-in state store: memory or redis. Can also use STATE_STORE env var.")
	f.StringVar(&cfg.RedisURL, "redis-url", "", "Redis URL for the redis state store, e.g. redis://localhost:6379/0. Can also use REDIS_URL env var.")
	f.StringSliceVar(&cfg.CORSOrigins, "cors-origins", cors.DefaultOrigins, "Allowed CORS origins (comma-separated). Can also use CORS_ORIGINS env var.")
	f.BoolVar(&cfg.TrustProxy, "trust-proxy", false, "Use X-Forwarded-For for rate limiting. Enable only behind a trusted proxy. Can also use TRUST_PROXY env var.")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", 5*time.Minute, "HTTP write timeout; attachment syncs run inside a request. Can also use WRITE_TIMEOUT env var.")
	f.StringVar(&cfg.TLSCertFile, "tls-cert-file", "", "Path to TLS certificate file (PEM format). If provided with --tls-key-file, enables HTTPS. Can also use TLS_CERT_FILE env var.")
	f.StringVar(&cfg.TLSKeyFile, "tls-key-file", "", "Path to TLS private key file (PEM format). If provided with --tls-cert-file, enables HTTPS. Can also use TLS_KEY_FILE env var.")
	f.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")

	return cmd
}

// serveEnv maps flags to the environment variables that back them.
var serveEnv = []struct {
	flag, env string
}{
	{"http-addr", "HTTP_ADDR"},
	{"base-url", "BASE_URL"},
	{"frontend-url", "FRONTEND_URL"},
	{"google-client-id", "GOOGLE_CLIENT_ID"},
	{"google-client-secret", "GOOGLE_CLIENT_SECRET"},
	{"session-secret", "SESSION_SECRET"},
	{"encryption-key", "ENCRYPTION_KEY"},
	{"storage-type", "STORAGE_TYPE"},
	{"database-url", "DATABASE_URL"},
	{"auto-migrate", "AUTO_MIGRATE"},
	{"state-store", "STATE_STORE"},
	{"redis-url", "REDIS_URL"},
	{"trust-proxy", "TRUST_PROXY"},
	{"write-timeout", "WRITE_TIMEOUT"},
	{"tls-cert-file", "TLS_CERT_FILE"},
	{"tls-key-file", "TLS_KEY_FILE"},
	{"metrics-enabled", "METRICS_ENABLED"},
	{"metrics-addr", "METRICS_ADDR"},
	{"debug", "DEBUG"},
}

// loadServeEnv fills every flag the user did not set from its environment
// variable, then derives defaults that depend on other settings.
func loadServeEnv(cmd *cobra.Command, cfg *ServeConfig) error {
	flags := cmd.Flags()
	for _, e := range serveEnv {
		if flags.Changed(e.flag) {
			continue
		}
		v, ok := os.LookupEnv(e.env)
		if !ok || v == "" {
			continue
		}
		if err := flags.Set(e.flag, v); err != nil {
			return fmt.Errorf("invalid %s value %q: %w", e.env, v, err)
		}
	}

	if !flags.Changed("cors-origins") {
		if origins := parseCommaSeparatedList(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
			cfg.CORSOrigins = origins
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL(cfg.HTTPAddr)
		slog.Info("no base URL configured, using auto-detected", "base_url", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return nil
}

func defaultBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// validateBaseURL allows plain HTTP only for loopback hosts.
func validateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("base URL must use HTTPS outside localhost (got: %s)", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q, must be http (localhost only) or https", u.Scheme)
	}

	return nil
}

func runServe(ctx context.Context, cfg ServeConfig, logger *slog.Logger) error {
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	health := server.NewHealthChecker()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing storage", logging.Err(err))
		}
	}()
	if pg, ok := store.(*postgres.PgSQL); ok && pg.Pool != nil {
		health.AddCheck("postgres", pg.Pool.Ping)
	}

	states, stateCheck, closeStates, err := openStateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStates()
	if stateCheck != nil {
		health.AddCheck(cfg.StateStore, stateCheck)
	}

	limiter := auth.NewRateLimiter(defaultRateLimitRPS, defaultRateLimitBurst, cfg.TrustProxy)
	go limiter.Run(ctx, cleanupInterval)

	application, err := buildApplication(cfg, store, states, limiter, metrics, logger)
	if err != nil {
		return err
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Health:                  health,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- application.Start(cfg.HTTPAddr)
	}()
	health.SetReady(true)

	logger.Info("fetchfloww backend started",
		"addr", cfg.HTTPAddr,
		"base_url", cfg.BaseURL,
		"storage", cfg.StorageType,
		"state_store", cfg.StateStore,
		"tls", cfg.TLSCertFile != "")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
	case err := <-serverDone:
		if err != nil {
			runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	health.SetReady(false)
	health.MarkShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during metrics server shutdown", logging.Err(err))
		}
	}

	if runErr == nil {
		logger.Info("HTTP server gracefully stopped")
	}
	return runErr
}

// buildApplication constructs the route groups and mounts them in order:
// auth, attachments, app. Any constructor error aborts startup.
func buildApplication(cfg ServeConfig, store storage.Storage, states auth.StateStore, limiter *auth.RateLimiter, metrics *instrumentation.Metrics, logger *slog.Logger) (*server.Application, error) {
	key, err := google.EncryptionKeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if key == nil {
		logger.Warn("token encryption disabled, Google tokens are stored in plaintext")
	}
	encryption, err := google.NewTokenEncryption(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create token encryption: %w", err)
	}

	oauthConfig := google.NewOAuthConfig(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.BaseURL + callbackPath,
	})
	credentials := google.NewCredentials(oauthConfig, store, encryption,
		google.WithMetrics(metrics),
		google.WithLogger(logger),
	)

	sessions, err := auth.NewSessionManager([]byte(cfg.SessionSecret), 0, cfg.secureCookies())
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	authHandler, err := auth.NewHandler(auth.Config{FrontendURL: cfg.FrontendURL},
		credentials, store, states, sessions,
		auth.WithRateLimiter(limiter),
		auth.WithMetrics(metrics),
		auth.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth routes: %w", err)
	}
	authenticator := authHandler.Authenticator()

	clients := gmail.NewGoogleClients(credentials, metrics)
	syncer := gmail.NewSyncer(store, metrics, logger)

	attachmentsHandler, err := gmail.NewHandler(clients, store, syncer, authenticator, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment routes: %w", err)
	}

	appHandler, err := app.NewHandler(store, clients, authenticator, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create app routes: %w", err)
	}

	application := server.New(server.Config{
		Logger:       logger,
		Metrics:      metrics,
		WriteTimeout: cfg.WriteTimeout,
		TLSCertFile:  cfg.TLSCertFile,
		TLSKeyFile:   cfg.TLSKeyFile,
	})
	if err := application.RegisterLiveness(); err != nil {
		return nil, err
	}
	for _, group := range []server.RouteGroup{authHandler, attachmentsHandler, appHandler} {
		if err := application.Mount(group); err != nil {
			return nil, err
		}
	}

	policy := cors.DefaultPolicy()
	policy.AllowedOrigins = cfg.CORSOrigins
	if err := application.InstallCORS(policy); err != nil {
		return nil, err
	}

	return application, nil
}

func openStorage(ctx context.Context, cfg ServeConfig, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageType {
	case storageTypePostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, store.SQLDB(), "up"); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return store, nil
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}
}

// openStateStore returns the sign-in state store, a readiness check for it
// (nil when there is nothing remote to probe) and a close function.
func openStateStore(ctx context.Context, cfg ServeConfig, logger *slog.Logger) (auth.StateStore, server.CheckFunc, func(), error) {
	switch cfg.StateStore {
	case stateStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		logger.Info("using redis state store", "addr", opts.Addr, "db", opts.DB)
		check := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return auth.NewRedisStateStore(rdb), check, func() { _ = rdb.Close() }, nil
	default:
		return auth.NewMemoryStateStore(ctx, cleanupInterval, logger), nil, func() {}, nil
	}
}

func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
