// Package logging provides structured logging configuration for cg.
//
// Logging Strategy:
// - JSON format so diagnostic lines can be grepped and parsed
// - Source locations included for debugging (file:line)
// - Log levels configurable via config file (debug, info, warn, error)
// - Never on stdout: stdout carries the summary the calling agent parses
//
// Sinks:
//   - "file":    rotating JSON log file (lumberjack)
//   - "stderr":  JSON lines on standard error
//   - "journal": systemd journal when available, stderr otherwise
//   - "none":    discard everything
//
// Usage:
//
//	logger, closeLog := logging.Setup(logging.Options{Level: "info", Output: "file", File: path})
//	defer closeLog()
//	logger.Info("action description", "key", value, "component", "runner")
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output sink names accepted in configuration.
const (
	OutputFile    = "file"
	OutputStderr  = "stderr"
	OutputJournal = "journal"
	OutputNone    = "none"
)

// Options selects the log level and destination.
type Options struct {
	// Level is one of "debug", "info", "warn", "error" (case-insensitive).
	Level string

	// Output is one of the Output* sink names. Empty means stderr.
	Output string

	// File is the log file path used by the "file" sink.
	File string
}

// Setup creates and configures a structured JSON logger.
// Invalid levels default to "info"; unknown outputs fall back to stderr.
//
// The returned function releases the sink (closes the rotating file). It is
// always non-nil and safe to call more than once.
//
// The logger is also set as the default via slog.SetDefault, allowing
// use of the global slog.Info(), slog.Error(), etc. functions.
func Setup(opts Options) (*slog.Logger, func() error) {
	handlerOpts := &slog.HandlerOptions{
		Level:       parseLevel(opts.Level),
		AddSource:   true, // Include file:line for debugging
		ReplaceAttr: shortenSource,
	}

	closer := func() error { return nil }

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Output)) {
	case OutputFile:
		if opts.File == "" {
			handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
			break
		}
		_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		handler = slog.NewJSONHandler(rotator, handlerOpts)
		closer = rotator.Close
	case OutputJournal:
		if journal.Enabled() {
			handler = newJournalHandler(handlerOpts)
		} else {
			handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
		}
	case OutputNone:
		handler = slog.NewJSONHandler(io.Discard, handlerOpts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler)

	// Set as default for global access via slog.Info(), slog.Error(), etc.
	slog.SetDefault(logger)

	return logger, closer
}

// shortenSource trims source paths by removing the module prefix.
func shortenSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if source, ok := a.Value.Any().(*slog.Source); ok {
			// Shorten file path: extract from internal/ onwards
			if idx := strings.Index(source.File, "internal/"); idx != -1 {
				source.File = source.File[idx:]
			} else {
				source.File = filepath.Base(source.File)
			}
			// Shorten function name: extract from internal/ onwards
			if idx := strings.Index(source.Function, "internal/"); idx != -1 {
				source.Function = source.Function[idx:]
			}
		}
	}
	return a
}

// parseLevel converts a string log level to slog.Level.
// Accepts: "debug", "info", "warn", "error" (case-insensitive).
// Returns slog.LevelInfo for unrecognized values.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger with a pre-set component attribute.
// Useful for tagging all logs from a specific subsystem.
//
// Usage:
//
//	storeLog := logging.WithComponent(logger, "outstore")
//	storeLog.Info("file allocated") // includes "component": "outstore"
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
