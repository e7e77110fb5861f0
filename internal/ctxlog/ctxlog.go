// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelEnvVar is the environment variable that sets the log level.
const LevelEnvVar = "CASERUN_LOG_LEVEL"

type loggerKey struct{}

// LevelVar is shared by the loggers created in this package so the level can be changed at runtime.
var LevelVar = &slog.LevelVar{}

// DefaultLogger is the pretty console logger used when the context carries none.
var DefaultLogger = slog.New(NewPrettyHandler(&slog.HandlerOptions{
	Level: LevelVar,
},
	WithAutoColour(),
	WithDestinationWriter(os.Stderr),
))

func init() {
	LevelVar.Set(ParseLevel(os.Getenv(LevelEnvVar)))
}

// New returns a copy of ctx carrying logger. A nil logger means DefaultLogger.
func New(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = DefaultLogger
	}

	return context.WithValue(ctx, loggerKey{}, logger)
}

// NewJSON returns a copy of ctx carrying a JSON logger that writes to w.
func NewJSON(ctx context.Context, w io.Writer) context.Context {
	return New(ctx, slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelVar})))
}

// NewForTUI returns a copy of ctx whose logger writes plain text to w.
// The terminal dashboard owns the screen, so log output is buffered and
// flushed once the dashboard exits.
func NewForTUI(ctx context.Context, w io.Writer) context.Context {
	return New(ctx, slog.New(NewPrettyHandler(&slog.HandlerOptions{Level: LevelVar},
		WithDestinationWriter(w),
	)))
}

// Logger returns the logger from ctx, or DefaultLogger.
func Logger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return DefaultLogger
	}

	return logger
}

// WithJob returns a copy of ctx whose logger is tagged with the job id and name.
func WithJob(ctx context.Context, id, name string) context.Context {
	return New(ctx, Logger(ctx).With("job", id, "name", name))
}

// WithStep returns a copy of ctx whose logger is tagged with the pipeline step.
func WithStep(ctx context.Context, step string) context.Context {
	return New(ctx, Logger(ctx).With("step", step))
}

// Debug logs at debug level using the logger from ctx.
func Debug(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Debug(msg, args...)
}

// Info logs at info level using the logger from ctx.
func Info(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Info(msg, args...)
}

// Warn logs at warn level using the logger from ctx.
func Warn(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Warn(msg, args...)
}

// Error logs at error level using the logger from ctx.
func Error(ctx context.Context, msg string, args ...any) {
	Logger(ctx).Error(msg, args...)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to WARN.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
