package apperr

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

// Error kind tags attached with goerr.T. Monitoring keys off the kind name
// and the process exit code derived from it.
var (
	TagConfig     = goerr.NewTag("config_error")
	TagConnection = goerr.NewTag("connection_error")
	TagQuery      = goerr.NewTag("query_error")
	TagFileWrite  = goerr.NewTag("file_write_error")
	TagEmail      = goerr.NewTag("email_error")
)

// Kind is the stable name of an error category.
type Kind string

const (
	KindUnknown    Kind = "UnknownError"
	KindConfig     Kind = "ConfigError"
	KindConnection Kind = "ConnectionError"
	KindQuery      Kind = "QueryError"
	KindFileWrite  Kind = "FileWriteError"
	KindEmail      Kind = "EmailError"
)

type kindEntry struct {
	tag      goerr.Tag
	kind     Kind
	exitCode int
}

// Checked in order; the first matching tag wins.
var kinds = []kindEntry{
	{tag: TagConfig, kind: KindConfig, exitCode: 2},
	{tag: TagConnection, kind: KindConnection, exitCode: 3},
	{tag: TagQuery, kind: KindQuery, exitCode: 4},
	{tag: TagFileWrite, kind: KindFileWrite, exitCode: 5},
	{tag: TagEmail, kind: KindEmail, exitCode: 0},
}

func lookup(err error) (kindEntry, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		for _, entry := range kinds {
			if goerr.HasTag(e, entry.tag) {
				return entry, true
			}
		}
	}
	return kindEntry{}, false
}

// KindOf returns the error kind of err, or KindUnknown when no kind tag is set.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	entry, ok := lookup(err)
	if !ok {
		return KindUnknown
	}
	return entry.kind
}

// ExitCode maps err to the process exit status. Email errors are not fatal
// to the report and map to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	entry, ok := lookup(err)
	if !ok {
		return 1
	}
	return entry.exitCode
}

// Handle logs err with its kind using the logger stored in ctx.
func Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}
	logger := ctxlog.From(ctx)
	logger.Error("application error",
		slog.String("kind", string(KindOf(err))),
		slog.Any("error", err),
	)
}
