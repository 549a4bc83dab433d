// Package logger is TiFS's structured-logging façade, in the same
// idiom as the teacher's own internal/logger: package-level
// Tracef/Debugf/Infof/Warnf/Errorf functions backed by log/slog, with
// a severity field and a configurable text-or-JSON handler, rotated by
// gopkg.in/natefinch/lumberjack.v2 when a log file path is configured.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Format selects the on-disk/stderr line format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config configures the package-level logger. Zero value logs INFO and
// above as text to stderr.
type Config struct {
	Level  slog.Level
	Format Format

	// FilePath, if non-empty, routes log lines through a rotating
	// lumberjack.Logger instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	levelTrace = slog.Level(-8)
)

var defaultLogger = slog.New(newHandler(os.Stderr, slog.LevelInfo, FormatText))

// Init installs cfg as the package-level logger. Safe to call again to
// reconfigure (e.g. after parsing CLI flags), matching the teacher's
// own re-initializable logger.
func Init(cfg Config) io.Closer {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = lj
		closer = lj
	}

	defaultLogger = slog.New(newHandler(w, cfg.Level, cfg.Format))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newHandler builds a slog.Handler that prints a "severity" field named
// after the standard GCP/syslog-style severity strings instead of
// slog's own terse level names, matching the teacher's log line shape.
func newHandler(w io.Writer, level slog.Level, format Format) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			case slog.LevelKey:
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// RequestLogger returns a logger tagged with a per-FUSE-call
// correlation id (spec.md SPEC_FULL.md §4.1), so every log line for
// one request can be joined on it. The id is not attached to trace
// spans or metrics.
func RequestLogger(requestID string) *slog.Logger {
	return defaultLogger.With("request_id", requestID)
}

func Tracef(format string, args ...any) {
	defaultLogger.Log(context.Background(), levelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
