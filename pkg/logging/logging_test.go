package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{raw: "debug", want: slog.LevelDebug},
		{raw: " WARN ", want: slog.LevelWarn},
		{raw: "warning", want: slog.LevelWarn},
		{raw: "error", want: slog.LevelError},
		{raw: "", want: slog.LevelInfo},
		{raw: "verbose", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.raw); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Info("routine message")
	logger.Warn("circle overdue", "circle_id", 4)

	out := buf.String()
	if strings.Contains(out, "routine message") {
		t.Fatalf("expected info to be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "circle overdue") || !strings.Contains(out, "circle_id") {
		t.Fatalf("expected warn record with attributes, got %q", out)
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	if got := LevelFromEnv(); got != slog.LevelError {
		t.Fatalf("expected error level from env, got %v", got)
	}
}
