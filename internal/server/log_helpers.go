package server

import (
	"context"
	"log/slog"
	"net/http"

	"livego/internal/observability/logging"
)

// loggingWithRequest returns base annotated with the request scoped IDs, the
// path and the resolved client address.
func loggingWithRequest(base *slog.Logger, resolver clientIPResolver, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}

	logger := loggerWithRequestContext(r.Context(), base)
	if logger == nil {
		return nil
	}

	ip, source := resolver.resolveWithSource(r)
	return logger.With(
		"path", r.URL.Path,
		"remote_ip", ip,
		"ip_source", source,
	)
}

func loggerWithRequestContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctxLogger := logging.LoggerFromContext(ctx); ctxLogger != nil {
		return ctxLogger
	}
	return logging.WithContext(ctx, logger)
}
