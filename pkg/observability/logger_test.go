package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func parseLogLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to parse log line %q: %v", line, err)
	}
	return entry
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Info("hello")

	entry := parseLogLine(t, strings.TrimSpace(buf.String()))
	if entry["msg"] != "hello" {
		t.Errorf("expected msg %q, got %v", "hello", entry["msg"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got %v", entry["level"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("debug message")
	logger.Info("info message")

	if buf.Len() != 0 {
		t.Errorf("expected no output below warn level, got %q", buf.String())
	}

	logger.Warn("warn message")
	if buf.Len() == 0 {
		t.Error("expected warn message to be logged")
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"plugin_id": "markdown-tools",
		"attempt":   2,
	}).Info("retrying")

	entry := parseLogLine(t, strings.TrimSpace(buf.String()))
	if entry["plugin_id"] != "markdown-tools" {
		t.Errorf("expected plugin_id field, got %v", entry["plugin_id"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("expected attempt field, got %v", entry["attempt"])
	}
}

func TestLogger_WithError_Nil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(nil).Info("no error")

	entry := parseLogLine(t, strings.TrimSpace(buf.String()))
	if _, ok := entry["error"]; ok {
		t.Error("nil error should not add an error field")
	}
}

func TestFromContext_IncludesRequestAndPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithPrincipalID(ctx, "acct-42")

	FromContext(ctx).Info("handling")

	entry := parseLogLine(t, strings.TrimSpace(buf.String()))
	if entry["request_id"] != "req-123" {
		t.Errorf("expected request_id, got %v", entry["request_id"])
	}
	if entry["principal_id"] != "acct-42" {
		t.Errorf("expected principal_id, got %v", entry["principal_id"])
	}
}

func TestGetLogger_DefaultWhenMissing(t *testing.T) {
	logger := GetLogger(context.Background())
	if logger == nil {
		t.Fatal("expected a default logger")
	}
}
