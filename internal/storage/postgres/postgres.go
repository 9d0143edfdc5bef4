// Package postgres implements storage.Storage on PostgreSQL using a pgx
// connection pool, goqu for query building and goose for migrations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/workfloww/fetchfloww/internal/storage"
)

const (
	usersTable       = "users"
	preferencesTable = "preferences"
	logsTable        = "logs"
)

// Options tunes the connection pool. Zero values keep pgx defaults.
type Options struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB is the subset of database/sql used by this package; *sql.DB satisfies it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Builder is the subset of goqu used to build queries bound to DB.
type Builder interface {
	From(table ...interface{}) *goqu.SelectDataset
	Insert(table interface{}) *goqu.InsertDataset
	Update(table interface{}) *goqu.UpdateDataset
}

// PgSQL implements storage.Storage for PostgreSQL.
type PgSQL struct {
	DB      DB
	Builder Builder
	Pool    *pgxpool.Pool
}

var _ storage.Storage = (*PgSQL)(nil)

// New connects to databaseURL and wraps the pool with a *sql.DB so goqu and
// goose can share it.
func New(ctx context.Context, databaseURL string, options Options) (*PgSQL, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse database url: %w", err)
	}
	if options.MaxConns > 0 {
		cfg.MaxConns = int32(options.MaxConns) //nolint: gosec
	}
	if options.MinConns > 0 {
		cfg.MinConns = int32(options.MinConns) //nolint: gosec
	}
	if options.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = options.ConnMaxLifetime
	}
	if options.ConnMaxIdleTime > 0 {
		cfg.MaxConnIdleTime = options.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not reach postgres: %w", err)
	}

	return NewWithDB(stdlib.OpenDBFromPool(pool), pool), nil
}

// NewWithDB wraps an existing *sql.DB. pool may be nil.
func NewWithDB(db *sql.DB, pool *pgxpool.Pool) *PgSQL {
	return &PgSQL{
		DB:      db,
		Builder: goqu.New("postgres", db),
		Pool:    pool,
	}
}

// SQLDB returns the underlying *sql.DB, or nil inside tests that inject a
// different executor.
func (p *PgSQL) SQLDB() *sql.DB {
	db, _ := p.DB.(*sql.DB)
	return db
}

// Close closes the pool and the database/sql wrapper.
func (p *PgSQL) Close() error {
	if db, ok := p.DB.(*sql.DB); ok {
		_ = db.Close()
	}
	if p.Pool != nil {
		p.Pool.Close()
	}
	return nil
}
