package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLevelTagWithoutColor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "[DEBUG]"},
		{slog.LevelInfo, "[INFO]"},
		{slog.LevelWarn, "[WARN]"},
		{slog.LevelError, "[ERROR]"},
	}
	for _, tc := range cases {
		if got := levelTag(tc.level, false); got != tc.want {
			t.Fatalf("levelTag(%v)=%q want=%q", tc.level, got, tc.want)
		}
	}
}

func TestColorizeStatusCode(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(200, false); got != "200" {
		t.Fatalf("plain status mismatch: %q", got)
	}
	if got := colorizeStatusCode(500, true); !strings.Contains(got, ansiRed) || !strings.Contains(got, "500") {
		t.Fatalf("server error should be red: %q", got)
	}
	if got := colorizeStatusCode(404, true); !strings.Contains(got, ansiYellow) {
		t.Fatalf("client error should be yellow: %q", got)
	}
	if got := colorizeStatusCode(201, true); !strings.Contains(got, ansiGreen) {
		t.Fatalf("success should be green: %q", got)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	if got := quoteIfNeeded("plain"); got != "plain" {
		t.Fatalf("plain value should stay unquoted: %q", got)
	}
	if got := quoteIfNeeded(""); got != `""` {
		t.Fatalf("empty value should be quoted: %q", got)
	}
	if got := quoteIfNeeded("two words"); got != `"two words"` {
		t.Fatalf("spaced value should be quoted: %q", got)
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)

	rec := slog.NewRecord(time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC), slog.LevelInfo, "request", 0)
	rec.AddAttrs(
		slog.String("method", "post"),
		slog.String("path", "/login"),
		slog.Int("status", 200),
		slog.String("user_agent", "smoke test"),
	)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("record should end with newline: %q", line)
	}
	for _, want := range []string{"lvl=[INFO]", "msg=request", "method=POST", "path=/login", "status=200", `user_agent="smoke test"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("output missing %q: %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but ANSI codes present: %q", line)
	}
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	base := newPrettyHandler(&buf, nil, false)
	h := base.WithAttrs([]slog.Attr{slog.String("service", "deepguard")}).WithGroup("db")

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "pool ready", 0)
	rec.AddAttrs(slog.Int("max_conns", 10))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}

	line := buf.String()
	if !strings.Contains(line, "db.service=deepguard") {
		t.Fatalf("grouped attr missing: %q", line)
	}
	if !strings.Contains(line, "db.max_conns=10") {
		t.Fatalf("grouped record attr missing: %q", line)
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be suppressed at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}
