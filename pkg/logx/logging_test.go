package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "test"))

	l.Debug("hidden")
	l.Info("shown", Int("n", 3))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"comp":"test"`) || !strings.Contains(out, `"n":3`) {
		t.Fatalf("missing fields: %s", out)
	}
}

func TestSampledDropsOverBudget(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").Sampled(2)

	for i := 0; i < 10; i++ {
		l.Debug("burst")
	}
	if got := strings.Count(buf.String(), "burst"); got != 2 {
		t.Fatalf("sampled lines = %d, want 2", got)
	}
}

func TestParseLevelDefault(t *testing.T) {
	if got := parseLevel("nope", LevelWarn); got != LevelWarn {
		t.Fatalf("parseLevel fallback = %v, want %v", got, LevelWarn)
	}
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
}
