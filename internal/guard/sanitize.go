package guard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const forbiddenCharacters = "<>{}$"

const maxInspectedBody = 1 << 20

var ErrForbiddenInput = errors.New("input contains forbidden characters")

// ContainsForbidden reports whether s, after NFKC normalisation, contains any
// of the characters < > { } $.
func ContainsForbidden(s string) bool {
	if strings.ContainsAny(s, forbiddenCharacters) {
		return true
	}
	return strings.ContainsAny(norm.NFKC.String(s), forbiddenCharacters)
}

// CheckValue walks decoded JSON (maps, slices, strings) and rejects the first
// string key or value carrying a forbidden character.
func CheckValue(v any) error {
	return checkValue(v, "")
}

func checkValue(v any, path string) error {
	switch val := v.(type) {
	case string:
		if ContainsForbidden(val) {
			return fieldError(path)
		}
	case map[string]any:
		for key, child := range val {
			childPath := joinPath(path, key)
			if ContainsForbidden(key) {
				return fieldError(childPath)
			}
			if err := checkValue(child, childPath); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			if err := checkValue(child, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func fieldError(path string) error {
	if path == "" {
		return ErrForbiddenInput
	}
	return fmt.Errorf("%s: %w", path, ErrForbiddenInput)
}

// CheckRequest inspects the path, query string and body of r. Any body that
// parses as JSON is checked whatever its declared Content-Type, since handlers
// decode it as JSON regardless. The body is restored so the downstream handler
// can read it again; bodies that fail to parse are left for the handler to
// reject.
func CheckRequest(r *http.Request) error {
	if ContainsForbidden(r.URL.Path) {
		return fieldError("path")
	}
	for key, values := range r.URL.Query() {
		if ContainsForbidden(key) {
			return fieldError("query")
		}
		for _, value := range values {
			if ContainsForbidden(value) {
				return fieldError("query." + key)
			}
		}
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxInspectedBody {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil
	}
	return checkValue(payload, "")
}
