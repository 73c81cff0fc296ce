package storage

import "time"

// PostgresConfig describes how the repository initialises its connection
// pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	ConnectTimeout  time.Duration
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ApplicationName string
	ApplySchema     bool
	Clock           func() time.Time
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		ApplicationName: "livego",
		Clock:           func() time.Time { return time.Now().UTC() },
	}
	o := collectOptions(opts)
	for _, apply := range o.postgres {
		apply(&cfg)
	}
	if o.clock != nil {
		cfg.Clock = o.clock
	}
	return cfg
}
