package api

import (
	"log/slog"
	"net/http"

	"livego/internal/economy"
	"livego/internal/lifecycle"
	"livego/internal/observability/logging"
	"livego/internal/rooms"
	"livego/internal/storage"
)

type Handler struct {
	Store   storage.Repository
	Economy *economy.Processor
	Streams *lifecycle.Manager
	Rooms   *rooms.Hub
	Sockets *rooms.Server
	// Probes are extra dependencies reported by Health, such as the Redis
	// client behind the relay or rate limiter.
	Probes map[string]Pinger
	// SRSHookToken, when set, must accompany media server callbacks.
	SRSHookToken string
	Logger       *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), h.logger())
}

// Health reports datastore and optional dependency reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components, status, code := h.componentHealth(r.Context())
	payload := map[string]any{
		"status":     status,
		"components": components,
	}
	if code != http.StatusOK {
		writeJSON(w, code, envelope{Success: false, Data: payload, Error: "degraded", Timestamp: nowUTC()})
		return
	}
	writeData(w, http.StatusOK, payload, "")
}
