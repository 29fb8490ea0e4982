package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/report"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS report_runs (
	id TEXT PRIMARY KEY,
	target_date TEXT NOT NULL,
	query_version TEXT NOT NULL,
	status TEXT NOT NULL,
	csv_path TEXT,
	emailed INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT,
	error_message TEXT,
	report_values TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS report_runs_started_idx ON report_runs (started_at);
`

// Timestamps are stored as text so ordering and round trips do not depend
// on driver type detection.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps the ledger in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the ledger at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, goerr.Wrap(err, "failed to create history directory",
				goerr.V("path", path),
				goerr.T(apperr.TagFileWrite))
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open history database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create history tables", goerr.V("path", path))
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, run Run) error {
	values, err := json.Marshal(run.Values)
	if err != nil {
		return goerr.Wrap(err, "failed to encode report values", goerr.V("run_id", run.ID))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_runs (
			id, target_date, query_version, status, csv_path, emailed,
			error_kind, error_message, report_values, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.TargetDate.String(),
		run.QueryVersion,
		string(run.Status),
		run.CSVPath,
		run.Emailed,
		run.ErrorKind,
		run.ErrorMessage,
		string(values),
		run.StartedAt.UTC().Format(sqliteTimeLayout),
		run.FinishedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to record run", goerr.V("run_id", run.ID))
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_date, query_version, status, csv_path, emailed,
			error_kind, error_message, report_values, started_at, finished_at
		FROM report_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                              Run
			date, status, values             string
			started, finished                string
			csvPath, errorKind, errorMessage sql.NullString
		)
		if err := rows.Scan(&run.ID, &date, &run.QueryVersion, &status, &csvPath, &run.Emailed,
			&errorKind, &errorMessage, &values, &started, &finished); err != nil {
			return nil, goerr.Wrap(err, "failed to scan run")
		}

		if run.TargetDate, err = report.ParseDate(date); err != nil {
			return nil, goerr.Wrap(err, "invalid stored target date", goerr.V("run_id", run.ID))
		}
		if values != "" {
			if err := json.Unmarshal([]byte(values), &run.Values); err != nil {
				return nil, goerr.Wrap(err, "invalid stored report values", goerr.V("run_id", run.ID))
			}
		}
		if run.StartedAt, err = time.Parse(sqliteTimeLayout, started); err != nil {
			return nil, goerr.Wrap(err, "invalid stored start time", goerr.V("run_id", run.ID))
		}
		if run.FinishedAt, err = time.Parse(sqliteTimeLayout, finished); err != nil {
			return nil, goerr.Wrap(err, "invalid stored finish time", goerr.V("run_id", run.ID))
		}
		run.Status = Status(status)
		run.CSVPath = csvPath.String
		run.ErrorKind = errorKind.String
		run.ErrorMessage = errorMessage.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to list runs")
	}
	return runs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
