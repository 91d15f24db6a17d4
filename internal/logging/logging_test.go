package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestJSONLoggerCarriesJobID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx, log := WithJobLogger(context.Background(), base)
	log.Info(ctx, "raster done", Int("computed", 12), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "raster done" {
		t.Fatalf("msg = %v, want raster done", rec["msg"])
	}
	if rec["job_id"] != JobIDFromContext(ctx) || rec["job_id"] == "" {
		t.Fatalf("job_id = %v, want %q", rec["job_id"], JobIDFromContext(ctx))
	}
	if rec["computed"] != float64(12) {
		t.Fatalf("computed = %v, want 12", rec["computed"])
	}
	if rec["error"] != "boom" {
		t.Fatalf("error = %v, want boom", rec["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	log.Warn(context.Background(), "shown")
	if buf.Len() == 0 {
		t.Fatalf("warn line not written")
	}
}

func TestEnsureJobIDKeepsExisting(t *testing.T) {
	ctx := ContextWithJobID(context.Background(), "abc")
	ctx, id := EnsureJobID(ctx)
	if id != "abc" || JobIDFromContext(ctx) != "abc" {
		t.Fatalf("job id = %q, want abc", id)
	}
}

func TestFromContextFallback(t *testing.T) {
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("FromContext without logger should return Noop")
	}
	l := New(Config{Output: io.Discard}).With(String("k", "v"))
	ctx := ContextWithLogger(context.Background(), l)
	if FromContext(ctx, nil) != l {
		t.Fatalf("FromContext did not return stored logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
