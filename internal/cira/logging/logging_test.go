package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/cira-systems/cira-core/internal/cira/config"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	l := New(config.LoggingConfig{Level: "bogus", Format: "text", Output: "stderr"})
	if !l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("an unrecognized level should fall back to info, not silently disable info logs")
	}
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("an unrecognized level should not fall back to debug")
	}
}

func TestNewHonorsDebugLevel(t *testing.T) {
	l := New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level should enable debug logs")
	}
}

func TestNewHonorsWarnAlias(t *testing.T) {
	l := New(config.LoggingConfig{Level: "warning", Format: "text", Output: "stderr"})
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("warn/warning level should not enable info logs")
	}
	if !l.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn/warning level should enable warn logs")
	}
}

func TestParseLevelCaseInsensitive(t *testing.T) {
	if parseLevel("ERROR") != slog.LevelError {
		t.Fatal("parseLevel should be case-insensitive")
	}
}

func TestOutputResolvesStdoutAndDefaultsToStderr(t *testing.T) {
	if output("stdout") != os.Stdout {
		t.Fatal("output(\"stdout\") should resolve to os.Stdout")
	}
	if output("") != os.Stderr {
		t.Fatal("an unrecognized output name should default to os.Stderr")
	}
	if output("STDOUT") != os.Stdout {
		t.Fatal("output should be case-insensitive")
	}
}

func TestNewJSONFormatProducesJSONHandler(t *testing.T) {
	if _, ok := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stderr"}).Handler().(*slog.JSONHandler); !ok {
		t.Fatal("New with Format json should build a JSON handler")
	}
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	l := slog.New(handler)
	l.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Fatalf("expected JSON-encoded log output, got %q", buf.String())
	}
}
