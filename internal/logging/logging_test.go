package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
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

func TestNewWithWriter_JSONDefault(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "")

	log.Debug("hidden")
	log.Info("shown", slog.String("collection", "manifesto-chunks"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if rec["msg"] != "shown" || rec["collection"] != "manifesto-chunks" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "TEXT").Debug("probe", slog.String("path", "/api/embed"))

	out := buf.String()
	if !strings.Contains(out, "msg=probe") || !strings.Contains(out, "path=/api/embed") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestFromContext_DefaultWhenMissing(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default for a bare context")
	}
}

func TestWith_AddsAttributes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = With(ctx, "request_id", "abc123")

	FromContext(ctx).Info("handled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if rec["request_id"] != "abc123" {
		t.Errorf("request_id: got %v", rec["request_id"])
	}
}

func TestWith_NoArgsReturnsSameContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if With(ctx) != ctx {
		t.Error("expected the same context when no attributes are given")
	}
}
