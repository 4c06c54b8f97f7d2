package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentPicksUpLaterInit(t *testing.T) {
	log := Component("driver")

	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelInfo, false)

	log.Info("run started", "steps", 10)

	out := buf.String()
	if !strings.Contains(out, "component=driver") {
		t.Errorf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, "steps=10") {
		t.Errorf("expected steps attribute, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelWarn, true)

	log := Component("export").With("file", "msd.parquet")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"component":"export"`) || !strings.Contains(out, `"file":"msd.parquet"`) {
		t.Errorf("expected JSON attributes, got %q", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelInfo, false)

	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx = ContextWithCorrelator(ctx, "msd")
	WithContext(ctx).Info("checkpoint written")

	out := buf.String()
	if !strings.Contains(out, "run_id=run-1") || !strings.Contains(out, "correlator=msd") {
		t.Errorf("expected context attributes, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
