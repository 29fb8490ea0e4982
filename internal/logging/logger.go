package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/clog"
	"golang.org/x/term"
)

// Format represents the console log output format
type Format int

const (
	FormatAuto Format = iota
	FormatConsole
	FormatJSON
)

// NewConsoleHandler creates the handler for process output. Terminals get
// colored clog output, anything else gets JSON.
func NewConsoleHandler(level slog.Level, w io.Writer, format Format) slog.Handler {
	if w == nil {
		w = os.Stdout
	}

	if format == FormatAuto {
		format = FormatJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = FormatConsole
		}
	}

	switch format {
	case FormatConsole:
		return clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
			clog.WithAttrHook(clog.GoerrHook),
		)
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}
}

// NewLogger creates a console logger.
func NewLogger(level slog.Level, w io.Writer, format Format) *slog.Logger {
	return slog.New(NewConsoleHandler(level, w, format))
}

// ParseLogLevel parses a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "info", "INFO", "":
		return slog.LevelInfo
	case "warn", "warning", "WARN", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat parses console, json or auto. ok is false for anything else.
func ParseFormat(value string) (Format, bool) {
	switch value {
	case "console":
		return FormatConsole, true
	case "json":
		return FormatJSON, true
	case "auto", "":
		return FormatAuto, true
	default:
		return FormatAuto, false
	}
}
