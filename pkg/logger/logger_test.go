package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return out
}

func TestLoggerWritesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", &buf, false)

	l.Info("Order confirmed", "orderID", "ord-1234", "items", 2, "error", errors.New("boom"))

	got := decodeLine(t, &buf)
	if got["message"] != "Order confirmed" {
		t.Fatalf("unexpected message: %v", got["message"])
	}
	if got["orderID"] != "ord-1234" {
		t.Fatalf("unexpected orderID: %v", got["orderID"])
	}
	if got["items"] != float64(2) {
		t.Fatalf("unexpected items: %v", got["items"])
	}
	if got["error"] != "boom" {
		t.Fatalf("unexpected error field: %v", got["error"])
	}
}

func TestLoggerMissingValue(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", &buf, false)

	l.Warn("dangling", "orderID")

	got := decodeLine(t, &buf)
	if got["orderID"] != "missing" {
		t.Fatalf("expected missing marker, got %v", got["orderID"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", &buf, false)

	l.Debug("hidden")
	l.Info("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}

	l.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected error line, got %q", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.Error("nothing happens", "k", "v")
}
