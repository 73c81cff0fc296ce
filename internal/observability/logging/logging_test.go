package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSelectsFormat(t *testing.T) {
	cases := []struct {
		format string
		json   bool
	}{
		{format: "", json: true},
		{format: "json", json: true},
		{format: " TEXT ", json: false},
		{format: "logfmt", json: true},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		New(Config{Writer: &buf, Format: tc.format}).Info("format check", "gift_id", "rose")

		isJSON := json.Valid(bytes.TrimSpace(buf.Bytes()))
		if isJSON != tc.json {
			t.Fatalf("format %q: expected json=%v, got output %q", tc.format, tc.json, buf.String())
		}
		if !strings.Contains(buf.String(), "rose") {
			t.Fatalf("format %q: expected attribute in output, got %q", tc.format, buf.String())
		}
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})

	logger.Info("dropped")
	logger.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected only warn output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "warning", input: "warning", expected: slog.LevelWarn},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "empty", input: "", expected: slog.LevelInfo},
		{name: "mixed case", input: " DeBuG ", expected: slog.LevelDebug},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			leveler := parseLevel(tc.input)
			if leveler == nil {
				t.Fatalf("expected leveler, got nil")
			}

			if got := leveler.Level(); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestWithComponentAndContextFields(t *testing.T) {
	if got := WithComponent(nil, "economy"); got != nil {
		t.Fatalf("expected nil logger, got %v", got)
	}
	if got := WithContext(context.Background(), nil); got != nil {
		t.Fatalf("expected nil logger, got %v", got)
	}

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithStreamID(ctx, "stream-1")
	ctx = ContextWithAccountID(ctx, "viewer-1")

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	WithContext(ctx, WithComponent(base, "economy")).Info("gift sent")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	want := map[string]string{
		"component":  "economy",
		"request_id": "req-1",
		"stream_id":  "stream-1",
		"account_id": "viewer-1",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("expected %s=%q, got %v", key, value, payload[key])
		}
	}
}

func TestContextHelpersIgnoreEmptyValues(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "")
	ctx = ContextWithStreamID(ctx, "")
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("expected empty request id to be ignored")
	}
	if _, ok := StreamIDFromContext(ctx); ok {
		t.Fatal("expected empty stream id to be ignored")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := LoggerFromContext(ContextWithLogger(context.Background(), logger)); got != logger {
		t.Fatal("expected stored logger to be returned")
	}
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Fatalf("expected nil logger for empty context, got %v", got)
	}
}

func TestOpenWritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "livego.log")

	logger, closer := Open(Config{Writer: &buf, File: path})
	logger.Info("to both sinks")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both sinks") {
		t.Fatalf("expected file output, got %q", data)
	}
	if !strings.Contains(buf.String(), "to both sinks") {
		t.Fatalf("expected writer output, got %q", buf.String())
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Format: string(FormatText), Level: "debug"})
	if logger != slog.Default() {
		t.Fatalf("expected Init to replace the default logger")
	}

	slog.Info("hello world")

	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected text output to include message, got %q", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger})

	req := httptest.NewRequest(http.MethodPost, "/api/gifts/send", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	recorder := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(recorder, req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}

	if payload["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status %d, got %v", http.StatusAccepted, payload["status"])
	}
	if payload["remote_addr"] != "127.0.0.1:1234" {
		t.Fatalf("expected remote_addr to be recorded, got %v", payload["remote_addr"])
	}
	if payload["path"] != "/api/gifts/send" {
		t.Fatalf("expected path to be logged, got %v", payload["path"])
	}
}

func TestRequestLoggerUsesErrorLevelForServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/balance", nil)
	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})).ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if payload["level"] != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", payload["level"])
	}
	if _, ok := payload["remote_addr"]; ok {
		t.Fatalf("expected remote_addr to be omitted")
	}
}
