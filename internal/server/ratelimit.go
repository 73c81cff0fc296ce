package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livego/internal/api"
	"livego/internal/apperr"
	"livego/internal/guard"
	"livego/internal/observability/metrics"
)

// clientIPResolver picks the address the limiter and audit log key on.
type clientIPResolver struct {
	trustForwarded bool
}

func (c clientIPResolver) resolve(r *http.Request) string {
	ip, _ := c.resolveWithSource(r)
	return ip
}

func (c clientIPResolver) resolveWithSource(r *http.Request) (string, string) {
	if r == nil {
		return "", "none"
	}
	if c.trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip, "x-forwarded-for"
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			return xrip, "x-real-ip"
		}
	}
	return clientIP(r.RemoteAddr), "remote_addr"
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

const (
	srsHookPrefix = "/srs/hooks/"
	// hookKeyPrefix gives SRS hooks a budget separate from API traffic coming
	// from the same address.
	hookKeyPrefix = "srs-hook:"
)

func rateLimitMiddleware(limiter guard.Limiter, resolver clientIPResolver, logger *slog.Logger, recorder *metrics.Recorder, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := resolver.resolve(r)
		hook := strings.HasPrefix(r.URL.Path, srsHookPrefix)
		if hook {
			key = hookKeyPrefix + key
		}
		allowed, retryAfter, err := limiter.Allow(r.Context(), key)
		if hook && (err != nil || !allowed) {
			// SRS treats anything but 200 "0" as a refusal, so throttled hooks
			// are dropped but still acknowledged.
			if err == nil {
				recorder.RateLimited("srs_hook")
			}
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Warn("srs hook dropped by rate limiter", "error", err)
			}
			api.WriteHookAck(w)
			return
		}
		if err != nil {
			if reqLogger := loggingWithRequest(logger, resolver, r); reqLogger != nil {
				reqLogger.Error("rate limiter failure", "error", err)
			}
			writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
			return
		}
		if !allowed {
			recorder.RateLimited("http")
			if retryAfter > 0 {
				w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
			}
			writeAppError(w, apperr.New(apperr.KindRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
