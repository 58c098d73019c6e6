// Package logging builds the JSON slog logger every service starts with.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// File, when set, receives a copy of every line. The file is rotated
	// by size so a long-running Pi does not fill its SD card.
	File string

	// Service is attached to every record as "service".
	Service string

	// Forward, when set, also receives every line (see MQTTWriter).
	Forward io.Writer
}

// New returns a JSON logger writing to stdout (and File when configured).
// The returned closer releases the log file; it is a no-op without one.
func New(opts Options) (*slog.Logger, io.Closer) {
	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		rotating := Rotating(opts.File)
		writers = append(writers, rotating)
		closer = rotating
	}
	if opts.Forward != nil {
		writers = append(writers, opts.Forward)
	}
	out := writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger, closer
}

// Rotating returns a size-rotated log file.
func Rotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// ParseLevel maps a textual level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
