package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"livego/internal/observability/logging"
)

// srsHookRequest is the JSON body of an SRS http_hooks callback.
type srsHookRequest struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id,omitempty"`
	IP       string `json:"ip,omitempty"`
	Vhost    string `json:"vhost,omitempty"`
	App      string `json:"app,omitempty"`
	Stream   string `json:"stream"`
	Param    string `json:"param,omitempty"`
}

const maxHookBody = 64 << 10

// SRSHook handles /srs/hooks/{action}. It always answers 200 with body "0":
// rejected tokens, unknown streams and store failures are logged only.
func (h *Handler) SRSHook(w http.ResponseWriter, r *http.Request) {
	defer WriteHookAck(w)

	var req srsHookRequest
	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
		_ = r.Body.Close()
		if err == nil && len(strings.TrimSpace(string(raw))) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				h.requestLogger(r).Warn("srs hook body malformed", "path", r.URL.Path, "error", err)
			}
		}
	}
	action := chi.URLParam(r, "action")
	if action == "" {
		action = req.Action
	}
	if action == "" {
		action = r.URL.Query().Get("action")
	}
	stream := strings.TrimSpace(req.Stream)
	if stream == "" {
		stream = strings.TrimSpace(r.URL.Query().Get("stream"))
	}

	logger := h.requestLogger(r)
	if !h.srsHookAuthorized(r, req.Param) {
		logger.Warn("srs hook rejected token", "path", r.URL.Path, "remote", r.RemoteAddr, "stream_id", stream)
		return
	}
	if h.Streams == nil {
		logger.Error("srs hook received without lifecycle manager", "action", action)
		return
	}

	ctx := logging.ContextWithStreamID(r.Context(), stream)
	h.Streams.HandleHook(ctx, action, stream)
}

// LiveStreams lists streams that are currently live.
func (h *Handler) LiveStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := h.Streams.ListLive(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, streams, "")
}

// StreamByID returns one stream with its viewer count.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	stream, err := h.Streams.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, stream, "")
}
