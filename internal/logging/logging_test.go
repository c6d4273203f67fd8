package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestL_TagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-42")

	L(ctx).Info("report created")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-42") {
		t.Errorf("log line missing request id: %s", out)
	}
}

func TestL_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	L(WithLogger(context.Background(), logger)).Info("sweep finished")

	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("unexpected request id tag: %s", buf.String())
	}
}

func TestRequestID_Missing(t *testing.T) {
	if id := RequestID(context.Background()); id != "" {
		t.Errorf("RequestID on empty context = %q, want empty", id)
	}
}
