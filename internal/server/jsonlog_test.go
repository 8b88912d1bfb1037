package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogLevelInfo, true)

	l.Error("audit_write_failed", map[string]any{
		"request_id": "rid-1",
		"session":    "abc",
	}, errors.New("connection refused"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry.Level != LogLevelError || entry.Message != "audit_write_failed" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.RequestID != "rid-1" {
		t.Errorf("RequestID = %q, want rid-1", entry.RequestID)
	}
	if _, ok := entry.Fields["request_id"]; ok {
		t.Error("request_id duplicated in fields")
	}
	if entry.Fields["session"] != "abc" || entry.Error != "connection refused" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestLogger_TextSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogLevelDebug, false)

	l.Info("rate_limit_exceeded", map[string]any{"path": "/upload", "ip": "10.0.0.1"})

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "[info] ") {
		t.Errorf("line = %q", line)
	}
	if !strings.HasSuffix(line, "rate_limit_exceeded ip=10.0.0.1 path=/upload") {
		t.Errorf("line = %q", line)
	}
}

func TestLogger_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogLevelWarn, false)

	l.Debug("debug", nil)
	l.Info("info", nil)
	if buf.Len() != 0 {
		t.Fatalf("entries below warn were written: %q", buf.String())
	}
	l.Warn("warn", nil)
	if !strings.Contains(buf.String(), "warn") {
		t.Error("warn entry missing")
	}
}
