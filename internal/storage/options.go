package storage

import (
	"strings"
	"time"
)

// Option configures either datastore. Backend specific options are ignored
// by the other backend.
type Option func(*options)

type options struct {
	clock    func() time.Time
	postgres []func(*PostgresConfig)
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func postgresOption(apply func(*PostgresConfig)) Option {
	return func(o *options) {
		o.postgres = append(o.postgres, apply)
	}
}

// WithClock overrides the time source used for ledger and stream timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// PoolSettings tunes the pgx pool. Zero values keep the pgx defaults.
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func WithPostgresPool(settings PoolSettings) Option {
	return postgresOption(func(cfg *PostgresConfig) {
		if settings.MaxConns > 0 {
			cfg.MaxConnections = settings.MaxConns
		}
		if settings.MinConns > 0 {
			cfg.MinConnections = settings.MinConns
		}
		if settings.ConnectTimeout > 0 {
			cfg.ConnectTimeout = settings.ConnectTimeout
		}
		if settings.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = settings.MaxConnLifetime
		}
		if settings.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = settings.MaxConnIdleTime
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}

// WithPostgresMigrations applies the embedded schema when the repository
// opens.
func WithPostgresMigrations(enabled bool) Option {
	return postgresOption(func(cfg *PostgresConfig) {
		cfg.ApplySchema = enabled
	})
}
