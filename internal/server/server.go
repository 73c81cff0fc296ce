package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"livego/internal/api"
	"livego/internal/auth"
	"livego/internal/guard"
	"livego/internal/observability/logging"
	"livego/internal/observability/metrics"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
	// Limiter bounds requests per client address. Nil disables limiting.
	Limiter guard.Limiter
	// TrustForwardedFor keys the limiter on X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustForwardedFor bool
	Tokens            *auth.TokenManager
	Security          SecurityConfig
	// ShutdownTimeout bounds the graceful drain once Run's context ends.
	ShutdownTimeout time.Duration
	// Ready, when set, is called with the bound address once the listener is
	// accepting connections.
	Ready func(net.Addr)
}

// DefaultShutdownTimeout is used when Config.ShutdownTimeout is unset.
const DefaultShutdownTimeout = 10 * time.Second

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	tlsCertFile     string
	tlsKeyFile      string
	shutdownTimeout time.Duration
	ready           func(net.Addr)
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	router := NewRouter(handler, cfg, logger, recorder)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	srv := &Server{
		httpServer:      httpServer,
		logger:          logger,
		tlsCertFile:     strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:      strings.TrimSpace(cfg.TLS.KeyFile),
		shutdownTimeout: cfg.ShutdownTimeout,
		ready:           cfg.Ready,
	}
	if (srv.tlsCertFile == "") != (srv.tlsKeyFile == "") {
		return nil, errors.New("both TLS cert file and key file must be provided")
	}
	if srv.shutdownTimeout <= 0 {
		srv.shutdownTimeout = DefaultShutdownTimeout
	}

	return srv, nil
}

// NewRouter assembles the middleware chain and routes.
func NewRouter(handler *api.Handler, cfg Config, logger *slog.Logger, recorder *metrics.Recorder) http.Handler {
	resolver := clientIPResolver{trustForwarded: cfg.TrustForwardedFor}

	r := chi.NewRouter()
	r.Use(
		func(next http.Handler) http.Handler { return requestIDMiddleware(logger, next) },
		logging.RequestLogger(logging.RequestLoggerConfig{
			Logger: logger,
			AdditionalFields: func(req *http.Request, _ int, _ time.Duration) []any {
				return []any{"remote_ip", resolver.resolve(req)}
			},
		}),
		func(next http.Handler) http.Handler { return metrics.HTTPMiddleware(recorder, next) },
		func(next http.Handler) http.Handler { return securityHeadersMiddleware(cfg.Security, next) },
		func(next http.Handler) http.Handler { return auditMiddleware(cfg.AuditLogger, resolver, next) },
		func(next http.Handler) http.Handler {
			return rateLimitMiddleware(cfg.Limiter, resolver, logger, recorder, next)
		},
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMiddlewareError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMiddlewareError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", handler.Health)
	r.Handle("/metrics", recorder.Handler())
	r.Post("/srs/hooks/{action}", handler.SRSHook)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return sanitizeMiddleware(logger, recorder, next) })

		r.Get("/api/gifts", handler.Gifts)
		r.Post("/api/wallet/withdraw/calculate", handler.CalculateWithdrawal)
		r.Get("/api/streams/live", handler.LiveStreams)
		r.Get("/api/streams/{id}", handler.StreamByID)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return authMiddleware(cfg.Tokens, logger, next) })

			r.Post("/api/gifts/send", handler.SendGift)
			r.Post("/api/gifts/send-backpack", handler.SendBackpack)
			r.Get("/api/wallet/balance", handler.Balance)
			r.Post("/api/wallet/purchase", handler.Purchase)
			r.Post("/api/wallet/purchase/confirm", handler.ConfirmPurchase)
			r.Post("/api/wallet/purchase/cancel", handler.CancelPurchase)
			r.Get("/api/wallet/purchases", handler.Purchases)
			r.Post("/api/wallet/withdraw", handler.Withdraw)
			r.Post("/api/rooms/{roomId}/chat", handler.RoomChat)
			r.Get("/ws", handler.Websocket)
		})
	})

	return r
}

// Run listens on the configured address and serves until ctx is cancelled or
// the listener fails. Cancellation triggers a graceful shutdown bounded by
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	useTLS := s.tlsCertFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(s.tlsCertFile, s.tlsKeyFile)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("load tls key pair: %w", err)
		}
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
		s.httpServer.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.logger.Info("http server listening", "addr", ln.Addr().String(), "tls", useTLS)
	if s.ready != nil {
		s.ready(ln.Addr())
	}

	stopped := make(chan struct{})
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(stopped)
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-stopped:
			return nil
		case <-groupCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := s.shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}

func (s *Server) shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func auditMiddleware(logger *slog.Logger, resolver clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", resolver.resolve(r),
		}
		if requestID, ok := logging.RequestIDFromContext(r.Context()); ok {
			fields = append(fields, "request_id", requestID)
		}
		logger.Info("audit", fields...)
	})
}

// shouldAudit selects balance-moving requests.
func shouldAudit(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/gifts/") || strings.HasPrefix(r.URL.Path, "/api/wallet/")
}
