// Package history keeps a ledger of report runs.
package history

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
	"socialplus-report/internal/report"
)

// Status is the final state of a run.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial means the CSV was written but some values are ERROR.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Value is one labelled report value, kept in column order.
type Value struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Run is one ledger entry.
type Run struct {
	ID           string
	TargetDate   report.Date
	QueryVersion string
	Status       Status
	CSVPath      string
	Emailed      bool
	ErrorKind    string
	ErrorMessage string
	Values       []Value
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ValuesFromRow pairs the row's labels with its values, skipping the date
// column.
func ValuesFromRow(row report.Row) []Value {
	if len(row.Header) <= 1 {
		return nil
	}
	values := make([]Value, 0, len(row.Header)-1)
	for i := 1; i < len(row.Header) && i < len(row.Values); i++ {
		values = append(values, Value{Label: row.Header[i], Value: row.Values[i]})
	}
	return values
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run Run) error
	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.HistoryNone:
		return Nop{}, nil
	case config.HistorySQLite:
		store, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.HistoryPostgres:
		store, err := OpenPostgres(ctx, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, goerr.New("unknown history driver",
			goerr.V("driver", cfg.Driver),
			goerr.T(apperr.TagConfig))
	}
}

// Nop discards every run.
type Nop struct{}

func (Nop) Record(context.Context, Run) error        { return nil }
func (Nop) List(context.Context, int) ([]Run, error) { return nil, nil }
func (Nop) Close() error                             { return nil }
