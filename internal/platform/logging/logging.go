package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"wa-gateway/go-backend/internal/platform/privacylog"
)

type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultLogger is the JSON stdout logger used when nothing is configured.
func DefaultLogger() *slog.Logger {
	return New(Config{}, os.Stdout)
}

// New builds a sanitized logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(privacylog.WrapHandler(handler))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
