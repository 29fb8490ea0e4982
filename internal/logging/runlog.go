package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/report"
)

const runLogTimeFormat = "2006-01-02 15:04:05"

// RunLogPath returns <dir>/<prefix>_<date>.log.
func RunLogPath(dir, prefix string, date report.Date) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, date))
}

// OpenRunLog opens the per-date log file for appending, creating the
// directory when needed.
func OpenRunLog(dir, prefix string, date report.Date) (*os.File, error) {
	path := RunLogPath(dir, prefix, date)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create log directory",
			goerr.V("path", path),
			goerr.T(apperr.TagFileWrite))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open run log",
			goerr.V("path", path),
			goerr.T(apperr.TagFileWrite))
	}
	return f, nil
}

// NewFileHandler writes plain timestamped lines without color.
func NewFileHandler(w io.Writer, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: runLogTimeFormat,
		NoColor:    true,
	})
}

// WithRunLog returns a logger that writes every record to both the base
// handler and the run log handler.
func WithRunLog(base *slog.Logger, w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(&teeHandler{handlers: []slog.Handler{
		base.Handler(),
		NewFileHandler(w, level),
	}})
}

type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return &teeHandler{handlers: next}
}
