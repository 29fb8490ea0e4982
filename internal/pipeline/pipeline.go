// Package pipeline runs one report: extract, write the CSV, then email it.
package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
	"socialplus-report/internal/csvfile"
	"socialplus-report/internal/extract"
	"socialplus-report/internal/history"
	"socialplus-report/internal/metrics"
	"socialplus-report/internal/report"
)

// Source is an open database session.
type Source interface {
	Configure(ctx context.Context, schema, timezone string) error
	Extract(ctx context.Context, date report.Date, set report.QuerySet, opts extract.Options) (*report.Result, error)
	Close() error
}

// Opener opens a new Source for one run.
type Opener func(ctx context.Context) (Source, error)

// PostgresOpener connects with the database configuration.
func PostgresOpener(cfg config.DatabaseConfig) Opener {
	return func(ctx context.Context) (Source, error) {
		sess, err := extract.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// PoolOpener pins a connection from an existing pool.
func PoolOpener(db *sql.DB) Opener {
	return func(ctx context.Context) (Source, error) {
		sess, err := extract.NewSession(ctx, db)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// Notifier delivers the written CSV.
type Notifier interface {
	Notify(ctx context.Context, date report.Date, attachment, runID string) error
}

// Archiver copies the written CSV elsewhere and returns its location.
type Archiver interface {
	Archive(ctx context.Context, file string) (string, error)
}

// Outcome summarizes a run.
type Outcome struct {
	RunID      string
	TargetDate report.Date
	Status     history.Status
	CSVPath    string
	ArchiveURL string
	Row        report.Row
	// Failed lists labels marked with report.ErrorMarker.
	Failed   []string
	Emailed  bool
	EmailErr error
	Err      error
	Duration time.Duration
}

// Driver runs the stages strictly in sequence.
type Driver struct {
	open     Opener
	writer   *csvfile.Writer
	notifier Notifier
	archiver Archiver
	history  history.Store
	metrics  *metrics.Recorder
	now      func() time.Time

	queries  report.QuerySet
	schema   string
	timezone string
	options  extract.Options
}

type Option func(*Driver)

func WithOpener(open Opener) Option {
	return func(d *Driver) { d.open = open }
}

// WithNotifier enables the email stage.
func WithNotifier(n Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

// WithArchiver uploads the CSV after it is written.
func WithArchiver(a Archiver) Option {
	return func(d *Driver) { d.archiver = a }
}

func WithHistory(s history.Store) Option {
	return func(d *Driver) { d.history = s }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Driver) { d.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// New builds a driver from cfg. Without WithNotifier the email stage is
// skipped.
func New(cfg *config.Config, opts ...Option) *Driver {
	d := &Driver{
		open:     PostgresOpener(cfg.Database),
		writer:   csvfile.NewWriter(cfg.Output.Dir, cfg.Output.FilePrefix),
		history:  history.Nop{},
		metrics:  metrics.NewRecorder(cfg.Metrics.Textfile),
		now:      time.Now,
		queries:  cfg.Report.QuerySet(),
		schema:   cfg.Database.Schema,
		timezone: cfg.Database.Timezone,
		options: extract.Options{
			ContinueOnError: cfg.Report.OnQueryError == config.OnQueryErrorMark,
			Timeout:         cfg.Database.QueryTimeout,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run produces the report for date. The returned error is the fatal stage
// failure. Archive and email failures do not fail the run.
func (d *Driver) Run(ctx context.Context, date report.Date) (*Outcome, error) {
	started := d.now()
	out := &Outcome{
		RunID:      uuid.NewString(),
		TargetDate: date,
		Status:     history.StatusFailed,
	}

	logger := ctxlog.From(ctx).With(slog.String("run_id", out.RunID))
	ctx = ctxlog.With(ctx, logger)
	logger.Info("Report run started",
		slog.String("target_date", date.String()),
		slog.String("query_version", d.queries.Version),
		slog.Int("queries", len(d.queries.Queries)),
	)

	if err := d.produce(ctx, date, out); err != nil {
		out.Err = err
		d.finish(ctx, out, started)
		return out, err
	}

	out.Status = history.StatusSuccess
	if len(out.Failed) > 0 {
		out.Status = history.StatusPartial
	}

	if d.archiver != nil {
		location, err := d.archiver.Archive(ctx, out.CSVPath)
		if err != nil {
			logger.Warn("Failed to archive report", slog.Any("error", err))
		} else {
			out.ArchiveURL = location
			logger.Info("Report archived", slog.String("location", location))
		}
	}

	if d.notifier == nil {
		logger.Info("Email skipped")
	} else if err := d.notifier.Notify(ctx, date, out.CSVPath, out.RunID); err != nil {
		out.EmailErr = err
		logger.Error("Failed to send email",
			slog.String("kind", string(apperr.KindOf(err))),
			slog.Any("error", err),
		)
	} else {
		out.Emailed = true
	}

	d.finish(ctx, out, started)
	return out, nil
}

// produce runs extraction and writes the CSV while the session is open. The
// session is closed before it returns.
func (d *Driver) produce(ctx context.Context, date report.Date, out *Outcome) error {
	logger := ctxlog.From(ctx)

	src, err := d.open(ctx)
	if err != nil {
		return err
	}
	logger.Info("Connected to database")
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("Failed to close connection", slog.Any("error", err))
			return
		}
		logger.Info("Connection closed")
	}()

	if err := src.Configure(ctx, d.schema, d.timezone); err != nil {
		return err
	}

	result, err := src.Extract(ctx, date, d.queries, d.options)
	if err != nil {
		return err
	}
	out.Failed = result.Failed()
	out.Row = report.BuildRow(date, d.queries, result)

	path, err := d.writer.Write(date, out.Row)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = goerr.Wrap(err, "failed to write report", goerr.T(apperr.TagFileWrite))
		}
		return err
	}
	out.CSVPath = path
	logger.Info("Results saved", slog.String("path", path))
	return nil
}

// finish records history and metrics. Neither can change the outcome.
func (d *Driver) finish(ctx context.Context, out *Outcome, started time.Time) {
	logger := ctxlog.From(ctx)
	finished := d.now()
	out.Duration = finished.Sub(started)

	run := history.Run{
		ID:           out.RunID,
		TargetDate:   out.TargetDate,
		QueryVersion: d.queries.Version,
		Status:       out.Status,
		CSVPath:      out.CSVPath,
		Emailed:      out.Emailed,
		Values:       history.ValuesFromRow(out.Row),
		StartedAt:    started,
		FinishedAt:   finished,
	}
	switch {
	case out.Err != nil:
		run.ErrorKind = string(apperr.KindOf(out.Err))
		run.ErrorMessage = out.Err.Error()
	case out.EmailErr != nil:
		run.ErrorKind = string(apperr.KindOf(out.EmailErr))
		run.ErrorMessage = out.EmailErr.Error()
	}

	if err := d.history.Record(ctx, run); err != nil {
		logger.Warn("Failed to record run history", slog.Any("error", err))
	}

	if d.metrics != nil {
		d.metrics.Observe(run)
		if err := d.metrics.Flush(); err != nil {
			logger.Warn("Failed to write metrics", slog.Any("error", err))
		}
	}

	logger.Info("Report run finished",
		slog.String("status", string(out.Status)),
		slog.Duration("duration", out.Duration),
		slog.Bool("emailed", out.Emailed),
	)
}
