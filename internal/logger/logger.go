package logger

import (
	"io"
	"log/slog"
	"os"
)

var Logger *slog.Logger

// Init installs a text handler on stdout as the default logger.
// debug lowers the level to Debug.
func Init(debug bool) *slog.Logger {
	return InitWriter(os.Stdout, debug)
}

func InitWriter(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	Logger = slog.New(slog.NewTextHandler(w, opts)).With("service", "coinrelay")
	slog.SetDefault(Logger)
	return Logger
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	if Logger == nil {
		return slog.Default().With("component", name)
	}
	return Logger.With("component", name)
}
