// Command uploadd watches a local directory tree and reports every file that
// is closed after being written. It loads a YAML configuration file, runs the
// watch until SIGTERM or SIGINT, and optionally serves a local status API and
// keeps a hash-chained journal of what it dispatched.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "uploadd: %v\n", err)
		os.Exit(1)
	}
}

// newLogger constructs a *slog.Logger writing to w at the requested minimum
// level, as JSON unless format is "text".
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
