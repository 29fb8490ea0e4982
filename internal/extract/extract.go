package extract

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/report"
)

// Options controls a single extraction.
type Options struct {
	// ContinueOnError marks failed queries with report.ErrorMarker instead
	// of aborting.
	ContinueOnError bool
	// Timeout bounds the whole extraction; zero means no extra deadline.
	Timeout time.Duration
}

var dateParam = regexp.MustCompile(`\$1\b`)

// Extract runs every query in order and reduces each to one value. The
// target date is bound as $1 for queries that reference it.
func (s *Session) Extract(ctx context.Context, date report.Date, set report.QuerySet, opts Options) (*report.Result, error) {
	logger := ctxlog.From(ctx)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result := report.NewResult()
	for _, q := range set.Queries {
		start := time.Now()
		rows, err := s.query(ctx, q, date)
		if err != nil {
			if connectionLost(err) {
				return nil, goerr.Wrap(err, "lost database connection",
					goerr.V("label", q.Label),
					goerr.T(apperr.TagConnection))
			}
			if !opts.ContinueOnError || ctx.Err() != nil {
				return nil, goerr.Wrap(err, "report query failed",
					goerr.V("label", q.Label),
					goerr.V("date", date.String()),
					goerr.T(apperr.TagQuery))
			}
			logger.Error("Report query failed",
				slog.String("label", q.Label),
				slog.Any("error", err),
			)
			result.MarkFailed(q.Label)
			continue
		}

		value := report.Flatten(rows)
		result.Set(q.Label, value)
		logger.Debug("Report query done",
			slog.String("label", q.Label),
			slog.String("value", value),
			slog.Duration("took", time.Since(start)),
		)
	}
	return result, nil
}

// connectionLost reports errors after which no further query can succeed on
// the session.
func connectionLost(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (s *Session) query(ctx context.Context, q report.Query, date report.Date) ([][]string, error) {
	if s.conn == nil {
		return nil, sql.ErrConnDone
	}
	var args []any
	if dateParam.MatchString(q.SQL) {
		args = append(args, date.String())
	}

	rows, err := s.conn.QueryContext(ctx, q.SQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// scanAll reads every row as text. NULL becomes "".
func scanAll(rows *sql.Rows) ([][]string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		record := make([]string, len(values))
		for i, v := range values {
			if v.Valid {
				record[i] = v.String
			}
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
