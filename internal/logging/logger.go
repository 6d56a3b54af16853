// Package logging builds the structured JSON logger shared by every binary.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"medinotify/internal/types"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
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

// NewSlog creates a JSON slog.Logger writing to w at the given level.
func NewSlog(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: false,
	})
	return slog.New(handler)
}

// New returns a types.Logger writing JSON to stdout, tagged with the service name.
func New(service, level string) types.Logger {
	return Adapt(NewSlog(os.Stdout, level).With("service", service))
}

// Adapt wraps a *slog.Logger so it satisfies types.Logger.
func Adapt(logger *slog.Logger) types.Logger {
	return &slogAdapter{logger: logger}
}

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies the first three methods but its With returns
// *slog.Logger, not types.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)
