package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"livego/internal/apperr"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message, Timestamp: time.Now().UTC()})
}

// WriteError renders err using its apperr.Kind. Errors outside the taxonomy
// are treated as internal and their cause is not exposed.
func WriteError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	writeJSON(w, status, envelope{Success: false, Error: apperr.Message(err), Timestamp: time.Now().UTC()})
}

// WriteStatus renders message as an error envelope with an explicit status.
func WriteStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message, Timestamp: time.Now().UTC()})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperr.InvalidInput("request body is required")
	}
	defer r.Body.Close()
	if !hasJSONContentType(r) {
		return apperr.InvalidInput("request body must be application/json")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidInput("request body is required")
		}
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed JSON body")
	}
	return nil
}

// hasJSONContentType accepts a missing Content-Type, application/json and
// any +json suffix.
func hasJSONContentType(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
