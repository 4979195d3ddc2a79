package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type loggerContextKey struct{}

// InitLogger configures the global slog logger with JSON output and level.
// Accepts levels: debug, info, warn, error. Defaults to info on unknown input.
// When logsDir is set, records are also appended to <logsDir>/<service>.log;
// the returned func closes that file.
func InitLogger(level, service, logsDir string) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	cleanup := func() {}
	if dir := strings.TrimSpace(logsDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("create logs dir: %w", err)
		}
		name := strings.TrimSpace(service)
		if name == "" {
			name = "service"
		}
		f, err := os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		cleanup = func() { _ = f.Close() }
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	})
	logger := slog.New(handler)
	if s := strings.TrimSpace(service); s != "" {
		logger = logger.With("service", s)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
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

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the logger stored in ctx, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
