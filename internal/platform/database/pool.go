// Package database opens the Postgres pool behind the registry store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sumbandila/migrations"
)

// ErrNotConfigured is returned by Pool methods when no database URL was set.
var ErrNotConfigured = errors.New("database not configured")

// Config holds the registry database settings.
type Config struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// ConnectTimeout bounds the retries made while Postgres is starting up.
	// Zero means a single attempt.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  30 * time.Second,
	}
}

// Pool is the registry's connection pool.
type Pool struct {
	db *sql.DB
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackOff replaces the connect retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *options) {
		if newBackOff != nil {
			o.newBackOff = newBackOff
		}
	}
}

// New opens the pool and waits until Postgres answers a ping, retrying with
// exponential backoff for up to cfg.ConnectTimeout.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	o := options{logger: slog.New(slog.DiscardHandler)}
	o.newBackOff = func() backoff.BackOff {
		if cfg.ConnectTimeout <= 0 {
			return &backoff.StopBackOff{}
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = cfg.ConnectTimeout
		return b
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		o.logger.WarnContext(ctx, "database not ready, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(o.newBackOff(), ctx), notify); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

// Migrate applies the embedded schema. It is idempotent.
func (p *Pool) Migrate(ctx context.Context) error {
	if p == nil || p.db == nil {
		return ErrNotConfigured
	}
	return migrations.Up(ctx, p.db)
}

func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return ErrNotConfigured
	}
	return p.db.PingContext(ctx)
}

// RegisterMetrics exports the pool statistics as go_sql_* metrics labelled
// db_name="registry".
func (p *Pool) RegisterMetrics(reg prometheus.Registerer) error {
	if p == nil || p.db == nil {
		return ErrNotConfigured
	}
	return reg.Register(collectors.NewDBStatsCollector(p.db, "registry"))
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
