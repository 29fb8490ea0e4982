package pipeline_test

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/mattn/go-sqlite3"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
	"socialplus-report/internal/history"
	"socialplus-report/internal/metrics"
	"socialplus-report/internal/pipeline"
	"socialplus-report/internal/report"
)

const driverName = "sqlite3_session"

var registerOnce sync.Once

// openFeed opens a SQLite database that accepts the session set_config calls.
func openFeed(t *testing.T) *sql.DB {
	t.Helper()
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("set_config", func(name, value string, local bool) string {
					return value
				}, true)
			},
		})
	})

	db, err := sql.Open(driverName, filepath.Join(t.TempDir(), "feed.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, created_at TEXT)`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER, created_at TEXT)`,
		`INSERT INTO users (created_at) VALUES ('2024-03-04 09:00:00'), ('2024-03-01 09:00:00')`,
		`INSERT INTO posts (user_id, created_at) VALUES
			(1, '2024-03-04 08:00:00'),
			(1, '2024-03-04 18:00:00'),
			(2, '2024-03-05 00:00:01')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		gt.NoError(t, err)
	}
	return db
}

var targetDate = report.Date{Year: 2024, Month: time.March, Day: 4}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Report.Version = "test"
	cfg.Report.Queries = []report.Query{
		{Label: "Users Created", SQL: `SELECT COUNT(*) FROM users WHERE date(created_at) = $1`},
		{Label: "Posts", SQL: `SELECT COUNT(*) FROM posts WHERE date(created_at) = $1`},
		{Label: "Users (Total)", SQL: `SELECT COUNT(*) FROM users`},
	}
	return cfg
}

type fakeNotifier struct {
	calls []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, date report.Date, attachment, runID string) error {
	n.calls = append(n.calls, date.String()+" "+attachment)
	return n.err
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	gt.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	gt.NoError(t, err)
	return records
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	notifier := &fakeNotifier{}
	store, err := history.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	gt.NoError(t, err)
	defer store.Close()

	d := pipeline.New(cfg,
		pipeline.WithOpener(pipeline.PoolOpener(openFeed(t))),
		pipeline.WithNotifier(notifier),
		pipeline.WithHistory(store),
	)

	out, err := d.Run(ctx, targetDate)
	gt.NoError(t, err)
	gt.Equal(t, out.Status, history.StatusSuccess)
	gt.True(t, out.Emailed)
	gt.Equal(t, filepath.Base(out.CSVPath), "socialplus_2024-03-04.csv")
	gt.Equal(t, notifier.calls, []string{"2024-03-04 " + out.CSVPath})

	records := readCSV(t, out.CSVPath)
	gt.Equal(t, records, [][]string{
		{"Date", "Users Created", "Posts", "Users (Total)"},
		{"2024-03-04", "1", "2", "2"},
	})

	runs, err := store.List(ctx, 5)
	gt.NoError(t, err)
	gt.Equal(t, len(runs), 1)
	gt.Equal(t, runs[0].ID, out.RunID)
	gt.Equal(t, runs[0].QueryVersion, "test")
	gt.Equal(t, runs[0].Values[1], history.Value{Label: "Posts", Value: "2"})
}

func TestRunOverwritesExistingReport(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	gt.NoError(t, os.MkdirAll(cfg.Output.Dir, 0755))
	stale := filepath.Join(cfg.Output.Dir, "socialplus_2024-03-04.csv")
	gt.NoError(t, os.WriteFile(stale, []byte("old,content\n1,2\n3,4\n"), 0644))

	d := pipeline.New(cfg, pipeline.WithOpener(pipeline.PoolOpener(openFeed(t))))
	out, err := d.Run(ctx, targetDate)
	gt.NoError(t, err)
	gt.Equal(t, out.CSVPath, stale)
	gt.False(t, out.Emailed)

	records := readCSV(t, stale)
	gt.Equal(t, len(records), 2)
	gt.Equal(t, len(records[0]), 1+len(cfg.Report.Queries))
	gt.Equal(t, len(records[1]), len(records[0]))
}

func TestRunConnectionFailure(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	notifier := &fakeNotifier{}
	promPath := filepath.Join(t.TempDir(), "report.prom")
	rec := metrics.NewRecorder(promPath)

	failing := func(context.Context) (pipeline.Source, error) {
		return nil, goerr.New("connection refused", goerr.T(apperr.TagConnection))
	}
	d := pipeline.New(cfg,
		pipeline.WithOpener(failing),
		pipeline.WithNotifier(notifier),
		pipeline.WithMetrics(rec),
	)

	out, err := d.Run(ctx, targetDate)
	gt.Error(t, err)
	gt.Equal(t, apperr.KindOf(err), apperr.KindConnection)
	gt.Equal(t, out.Status, history.StatusFailed)
	gt.Equal(t, len(notifier.calls), 0)

	_, statErr := os.Stat(filepath.Join(cfg.Output.Dir, "socialplus_2024-03-04.csv"))
	gt.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(promPath)
	gt.NoError(t, err)
	gt.S(t, string(data)).Contains("socialplus_report_success 0")
}

func TestRunEmailFailureKeepsReport(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	notifier := &fakeNotifier{err: goerr.New("relay down", goerr.T(apperr.TagEmail))}

	d := pipeline.New(cfg,
		pipeline.WithOpener(pipeline.PoolOpener(openFeed(t))),
		pipeline.WithNotifier(notifier),
	)

	out, err := d.Run(ctx, targetDate)
	gt.NoError(t, err)
	gt.Equal(t, out.Status, history.StatusSuccess)
	gt.False(t, out.Emailed)
	gt.Error(t, out.EmailErr)
	gt.Equal(t, apperr.ExitCode(out.EmailErr), 0)

	_, statErr := os.Stat(out.CSVPath)
	gt.NoError(t, statErr)
}

func TestRunQueryErrorPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("abort", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Report.Queries[1].SQL = `SELECT COUNT(*) FROM missing_table`
		notifier := &fakeNotifier{}
		db := openFeed(t)

		d := pipeline.New(cfg,
			pipeline.WithOpener(pipeline.PoolOpener(db)),
			pipeline.WithNotifier(notifier),
		)
		out, err := d.Run(ctx, targetDate)
		gt.Error(t, err)
		gt.Equal(t, apperr.KindOf(err), apperr.KindQuery)
		gt.Equal(t, out.Status, history.StatusFailed)
		gt.Equal(t, out.CSVPath, "")
		gt.Equal(t, len(notifier.calls), 0)
		gt.Equal(t, db.Stats().InUse, 0)

		_, statErr := os.Stat(filepath.Join(cfg.Output.Dir, "socialplus_2024-03-04.csv"))
		gt.True(t, os.IsNotExist(statErr))
	})

	t.Run("mark", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Report.OnQueryError = config.OnQueryErrorMark
		cfg.Report.Queries[1].SQL = `SELECT COUNT(*) FROM missing_table`

		db := openFeed(t)
		d := pipeline.New(cfg, pipeline.WithOpener(pipeline.PoolOpener(db)))
		out, err := d.Run(ctx, targetDate)
		gt.NoError(t, err)
		gt.Equal(t, db.Stats().InUse, 0)
		gt.Equal(t, out.Status, history.StatusPartial)
		gt.Equal(t, out.Failed, []string{"Posts"})

		records := readCSV(t, out.CSVPath)
		gt.Equal(t, records[1], []string{"2024-03-04", "1", report.ErrorMarker, "2"})
	})
}

type fakeArchiver struct {
	files []string
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, file string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.files = append(a.files, file)
	return "s3://reports/" + filepath.Base(file), nil
}

func TestRunArchivesReport(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	archiver := &fakeArchiver{}

	d := pipeline.New(cfg,
		pipeline.WithOpener(pipeline.PoolOpener(openFeed(t))),
		pipeline.WithArchiver(archiver),
	)
	out, err := d.Run(ctx, targetDate)
	gt.NoError(t, err)
	gt.Equal(t, archiver.files, []string{out.CSVPath})
	gt.Equal(t, out.ArchiveURL, "s3://reports/socialplus_2024-03-04.csv")

	t.Run("archive failure is not fatal", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := pipeline.New(testConfig(t),
			pipeline.WithOpener(pipeline.PoolOpener(openFeed(t))),
			pipeline.WithArchiver(&fakeArchiver{err: goerr.New("access denied")}),
			pipeline.WithNotifier(notifier),
		)
		out, err := d.Run(ctx, targetDate)
		gt.NoError(t, err)
		gt.Equal(t, out.ArchiveURL, "")
		gt.True(t, out.Emailed)
		gt.Equal(t, len(notifier.calls), 1)
	})
}
