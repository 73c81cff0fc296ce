// Command server starts the livego API, websocket and media hook service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"livego/internal/api"
	"livego/internal/auth"
	"livego/internal/config"
	"livego/internal/economy"
	"livego/internal/guard"
	"livego/internal/lifecycle"
	"livego/internal/observability/logging"
	"livego/internal/observability/metrics"
	"livego/internal/rooms"
	"livego/internal/server"
	"livego/internal/storage"
)

const rateLimitKeyPrefix = "livego:ratelimit:"

func main() {
	configPath := flag.String("config", os.Getenv("LIVEGO_CONFIG"), "path to a YAML configuration file")
	addr := flag.String("addr", "", "override http.addr")
	seedPath := flag.String("seed", "", "override catalog.path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *seedPath != "" {
		cfg.Catalog.Path = *seedPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.Open(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	recorder := metrics.Default()

	store, err := openRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("datastore close failed", "error", err)
		}
	}()

	if err := applySeed(ctx, store, cfg.Catalog.Path, logger); err != nil {
		return err
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password})
		defer redisClient.Close()
	}

	limiter, err := newLimiter(cfg.RateLimit, redisClient)
	if err != nil {
		return err
	}

	hub := rooms.NewHub(rooms.HubConfig{Logger: logging.WithComponent(logger, "rooms"), Metrics: recorder})

	mode, err := economy.ParsePurchaseMode(cfg.Economy.PurchaseMode)
	if err != nil {
		return err
	}
	processor, err := economy.NewProcessor(economy.Config{
		Store:        store,
		Rooms:        hub,
		Logger:       logging.WithComponent(logger, "economy"),
		Metrics:      recorder,
		Timeout:      cfg.Economy.Timeout,
		PurchaseMode: mode,
	})
	if err != nil {
		return fmt.Errorf("create economy processor: %w", err)
	}

	streams, err := lifecycle.NewManager(lifecycle.Config{
		Store:   store,
		Rooms:   hub,
		Logger:  logging.WithComponent(logger, "lifecycle"),
		Metrics: recorder,
	})
	if err != nil {
		return fmt.Errorf("create stream manager: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("create token manager: %w", err)
	}

	handler := &api.Handler{
		Store:   store,
		Economy: processor,
		Streams: streams,
		Rooms:   hub,
		Sockets: rooms.NewServer(hub, rooms.ClientConfig{
			ChatRate:  rate.Limit(cfg.Chat.MessagesPerSecond),
			ChatBurst: cfg.Chat.Burst,
		}),
		Probes:       healthProbes(redisClient),
		SRSHookToken: cfg.SRS.HookToken,
		Logger:       logger,
	}

	srv, err := server.New(handler, server.Config{
		Addr:              cfg.HTTP.Addr,
		TLS:               server.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile},
		Logger:            logger,
		AuditLogger:       logging.WithComponent(logger, "audit"),
		Metrics:           recorder,
		Limiter:           limiter,
		TrustForwardedFor: cfg.HTTP.TrustProxyHeaders,
		Tokens:            tokens,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
		Ready: func(addr net.Addr) {
			logger.Info("livego ready", "addr", addr.String(), "storage", cfg.Storage.Driver, "purchase_mode", string(mode))
		},
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	if redisClient != nil {
		relay, err := rooms.NewRedisRelay(hub, rooms.RedisRelayConfig{Client: redisClient, Channel: cfg.Redis.Channel})
		if err != nil {
			return fmt.Errorf("create room relay: %w", err)
		}
		group.Go(func() error {
			// Without the relay the instance keeps serving its local rooms.
			if err := relay.Run(groupCtx); err != nil {
				logger.Error("room relay stopped", "error", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func openRepository(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Repository, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "json":
		logger.Info("using json datastore", "path", cfg.JSONPath)
		return storage.NewJSONRepository(cfg.JSONPath)
	case "postgres":
		logger.Info("using postgres datastore", "max_conns", cfg.MaxConns, "auto_migrate", cfg.AutoMigrate)
		return storage.NewPostgresRepository(ctx, cfg.PostgresDSN,
			storage.WithPostgresPool(storage.PoolSettings{
				MaxConns:        cfg.MaxConns,
				ConnectTimeout:  cfg.ConnectTimeout,
				MaxConnLifetime: cfg.MaxConnLifetime,
				MaxConnIdleTime: cfg.MaxConnIdle,
			}),
			storage.WithPostgresApplicationName("livego"),
			storage.WithPostgresMigrations(cfg.AutoMigrate),
		)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func applySeed(ctx context.Context, store storage.Repository, path string, logger *slog.Logger) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	seed, err := storage.LoadSeed(path)
	if err != nil {
		return err
	}
	result, err := storage.ApplySeed(ctx, store, seed)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	logger.Info("seed applied", "path", path, "gifts", result.Gifts, "accounts", result.Accounts, "streams", result.Streams)
	return nil
}

func newLimiter(cfg config.RateLimitConfig, client *redis.Client) (guard.Limiter, error) {
	window := guard.WindowConfig{Window: cfg.Window, Limit: cfg.Requests, MaxKeys: cfg.MaxKeys}
	if !cfg.Redis {
		return guard.NewSlidingWindow(window), nil
	}
	if client == nil {
		return nil, errors.New("ratelimit.redis requires redis.addr")
	}
	return guard.NewRedisWindow(client, rateLimitKeyPrefix, window), nil
}

func healthProbes(client *redis.Client) map[string]api.Pinger {
	if client == nil {
		return nil
	}
	return map[string]api.Pinger{
		"redis": api.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
	}
}
