// Package logging builds the process-wide root *slog.Logger from
// config.LoggingConfig, mirroring the teacher's cmd/webstalk setupLogger
// (level from a verbose flag, slog.NewTextHandler to stderr). This
// generalizes it to a config-driven level/format/output triple and
// threads the result down as an explicit constructor argument to every
// subsystem rather than a package-level global, per spec.md §9's
// "explicit per-process values" re-architecture hint.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cira-systems/cira-core/internal/cira/config"
)

// New builds a root logger from cfg. Unknown level/format values fall
// back to info/text rather than erroring, since logging configuration
// should never be the reason a run fails to start.
func New(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	out := output(cfg.Output)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func output(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout
	default:
		return os.Stderr
	}
}
