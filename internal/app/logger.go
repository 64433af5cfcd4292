package app

import (
	"io"
	"log/slog"

	"github.com/MrWong99/minutas/internal/config"
)

// NewLogger builds the process logger. The returned LevelVar lets a config
// reload change verbosity without rebuilding the handler.
func NewLogger(w io.Writer, level config.LogLevel, format config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(SlogLevel(level))
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if format == config.LogJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), lvl
}

// SlogLevel maps a config level to its slog counterpart. Unknown values
// map to Info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
