package api

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
)

// hookAck is the body the media server expects from every callback. Any
// other answer makes it reject the client.
const hookAck = "0"

func constantTimeEqual(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// srsHookAuthorized accepts the token as a bearer header, a "token" query
// parameter on the hook URL, or a "token" parameter inside the SRS param
// field (the query string of the publish or play URL). With no token
// configured every callback is accepted.
func (h *Handler) srsHookAuthorized(r *http.Request, param string) bool {
	token := strings.TrimSpace(h.SRSHookToken)
	if token == "" {
		return true
	}
	if r == nil {
		return false
	}

	if authHeader := strings.TrimSpace(r.Header.Get("Authorization")); authHeader != "" {
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if constantTimeEqual(token, strings.TrimSpace(parts[1])) {
				return true
			}
		}
	}

	if queryToken := strings.TrimSpace(r.URL.Query().Get("token")); queryToken != "" {
		if constantTimeEqual(token, queryToken) {
			return true
		}
	}

	if param = strings.TrimPrefix(strings.TrimSpace(param), "?"); param != "" {
		if values, err := url.ParseQuery(param); err == nil {
			if constantTimeEqual(token, strings.TrimSpace(values.Get("token"))) {
				return true
			}
		}
	}

	return false
}

// WriteHookAck answers an SRS hook with the 200 "0" body SRS expects.
func WriteHookAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(hookAck))
}
