// Package config loads service settings from defaults, an optional YAML file
// and LIVEGO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "LIVEGO"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SRS       SRSConfig       `mapstructure:"srs"`
	Economy   EconomyConfig   `mapstructure:"economy"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustProxyHeaders keys rate limiting on X-Forwarded-For. Enable only
	// behind a proxy that overwrites the header.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	JSONPath        string        `mapstructure:"json_path"`
	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdle     time.Duration `mapstructure:"max_conn_idle"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	Window   time.Duration `mapstructure:"window"`
	Requests int           `mapstructure:"requests"`
	MaxKeys  int           `mapstructure:"max_keys"`
	// Redis selects the shared sorted-set limiter instead of the in-process
	// one. Requires redis.addr.
	Redis bool `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Channel  string `mapstructure:"channel"`
}

type SRSConfig struct {
	HookToken string `mapstructure:"hook_token"`
}

type EconomyConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PurchaseMode string        `mapstructure:"purchase_mode"`
}

type ChatConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.trust_proxy_headers", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.json_path", "data/livego.json")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.connect_timeout", "5s")
	v.SetDefault("storage.max_conn_lifetime", "1h")
	v.SetDefault("storage.max_conn_idle", "15m")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("catalog.path", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "livego")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.max_keys", 10000)
	v.SetDefault("ratelimit.redis", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel", "livego:rooms")
	v.SetDefault("srs.hook_token", "")
	v.SetDefault("economy.timeout", "5s")
	v.SetDefault("economy.purchase_mode", "direct")
	v.SetDefault("chat.messages_per_second", 2.0)
	v.SetDefault("chat.burst", 5)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used. LIVEGO_STORAGE_DRIVER overrides
// storage.driver, and so on for every key.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var problems []error
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "json":
	case "postgres":
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			problems = append(problems, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		problems = append(problems, errors.New("auth.jwt_secret is required"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		problems = append(problems, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		problems = append(problems, errors.New("ratelimit.requests and ratelimit.window must be positive"))
	}
	if c.RateLimit.Redis && strings.TrimSpace(c.Redis.Addr) == "" {
		problems = append(problems, errors.New("ratelimit.redis requires redis.addr"))
	}
	if c.Chat.MessagesPerSecond <= 0 || c.Chat.Burst <= 0 {
		problems = append(problems, errors.New("chat.messages_per_second and chat.burst must be positive"))
	}
	return errors.Join(problems...)
}
