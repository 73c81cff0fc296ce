package server

import (
	"errors"
	"log/slog"
	"net/http"

	"livego/internal/api"
	"livego/internal/apperr"
	"livego/internal/auth"
	"livego/internal/guard"
	"livego/internal/observability/logging"
	"livego/internal/observability/metrics"
)

// writeMiddlewareError renders a plain status in the API envelope.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteStatus(w, status, message)
}

func writeAppError(w http.ResponseWriter, err error) {
	api.WriteError(w, err)
}

func sanitizeMiddleware(logger *slog.Logger, recorder *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := guard.CheckRequest(r); err != nil {
			if errors.Is(err, guard.ErrForbiddenInput) {
				recorder.SanitizerRejected()
				if reqLogger := loggerWithRequestContext(r.Context(), logger); reqLogger != nil {
					reqLogger.Warn("request rejected by sanitizer", "path", r.URL.Path, "error", err)
				}
			}
			writeAppError(w, apperr.Wrap(apperr.KindInvalidInput, err, err.Error()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(tokens *auth.TokenManager, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := auth.ExtractToken(r)
		if raw == "" {
			writeAppError(w, apperr.Unauthorized("authentication required"))
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			message := "invalid session token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "session expired"
			}
			if reqLogger := loggerWithRequestContext(r.Context(), logger); reqLogger != nil {
				reqLogger.Debug("session token rejected", "error", err)
			}
			writeAppError(w, apperr.Unauthorized("%s", message))
			return
		}

		ctx := api.ContextWithAccount(r.Context(), api.Identity{ID: claims.Subject, Name: claims.Name})
		ctx = logging.ContextWithAccountID(ctx, claims.Subject)
		if ctxLogger := logging.LoggerFromContext(ctx); ctxLogger != nil {
			ctx = logging.ContextWithLogger(ctx, ctxLogger.With("account_id", claims.Subject))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
