package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type chatRequest struct {
	Message string `json:"message"`
}

// RoomChat publishes a chat message to a room over HTTP. The websocket
// path enforces membership; this route only requires a session.
func (h *Handler) RoomChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	message, err := h.Rooms.PublishChat(r.Context(), chi.URLParam(r, "roomId"), caller.ID, req.Message)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, message, "message sent")
}

// Websocket upgrades the request into a room client for the caller.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if err := h.Sockets.Serve(w, r, caller.ID); err != nil {
		h.requestLogger(r).Warn("websocket session failed", "account_id", caller.ID, "error", err)
	}
}
