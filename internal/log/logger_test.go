package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewHandler(t *testing.T) {
	for _, format := range []string{"", "text", "json", "tint", " JSON "} {
		var buf bytes.Buffer
		h, err := NewHandler(format, slog.LevelInfo, &buf)
		if err != nil {
			t.Fatalf("NewHandler(%q): %v", format, err)
		}
		slog.New(h).Info("hello", "k", "v")
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("format %q: output %q does not contain message", format, buf.String())
		}
	}

	if _, err := NewHandler("xml", slog.LevelInfo, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLogger_AddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: FormatJSON, Component: ComponentArchive, Output: &buf})

	logger.Info("archived", FieldArchiveID, "a1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if entry[FieldComponent] != ComponentArchive {
		t.Errorf("component = %v", entry[FieldComponent])
	}
	if entry[FieldArchiveID] != "a1" {
		t.Errorf("archive_id = %v", entry[FieldArchiveID])
	}
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Format: FormatText, Output: &buf})
	logger.Info("quiet")
	logger.Debug("quieter")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	logger.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}

func TestMiddleware_StoresLogger(t *testing.T) {
	logger := New(Config{Output: &bytes.Buffer{}, Component: ComponentHTTP})

	var got *Logger
	h := Middleware(logger)(ComponentMiddleware(ComponentAuth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got == nil || got.Component() != ComponentAuth {
		t.Fatalf("expected auth component logger, got %+v", got)
	}
}

func TestFromContext_Default(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Fatalf("unexpected default logger %+v", l)
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: FormatJSON, Output: &buf}))
	ctx := context.Background()

	sl.LogRecordCreated(ctx, "u1", "r1", "2024-05-01", 15, "225.00")
	sl.LogArchiveCreated(ctx, "u1", "a1", 2024, 5, 3, "600.00")
	sl.LogError(ctx, "boom", errors.New("disk full"), ComponentStorage, OpCreate, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	var rec, arch, fail map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &rec)
	_ = json.Unmarshal([]byte(lines[1]), &arch)
	_ = json.Unmarshal([]byte(lines[2]), &fail)

	if rec[FieldComponent] != ComponentIncome || rec[FieldStudents] != float64(15) {
		t.Errorf("unexpected record entry %v", rec)
	}
	if arch[FieldComponent] != ComponentArchive || arch[FieldMonth] != float64(5) {
		t.Errorf("unexpected archive entry %v", arch)
	}
	if fail["level"] != "ERROR" || fail[FieldError] != "disk full" || fail[FieldComponent] != ComponentStorage {
		t.Errorf("unexpected error entry %v", fail)
	}
}

func TestStructuredLogger_HTTPLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: FormatJSON, Output: &buf}))
	r := httptest.NewRequest(http.MethodGet, "/api/records?x=1", nil)

	sl.LogHTTPEnd(context.Background(), r, 503, 12, "10.0.0.1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["level"] != "ERROR" || entry[FieldSuccess] != false || entry[FieldQuery] != "x=1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}
