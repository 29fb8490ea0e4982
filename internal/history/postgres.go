package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/extract"
	"socialplus-report/internal/report"
)

const defaultPostgresSchema = "socialplus_report"

// PostgresStore keeps the ledger in a dedicated Postgres schema.
type PostgresStore struct {
	db     *sql.DB
	schema string
}

// OpenPostgres connects to dsn and creates the ledger tables in schema when
// they are missing.
func OpenPostgres(ctx context.Context, dsn, schema string) (*PostgresStore, error) {
	if schema == "" {
		schema = defaultPostgresSchema
	}
	schema, err := extract.SanitizeSchema(schema)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid history schema", goerr.T(apperr.TagConfig))
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid history dsn", goerr.T(apperr.TagConfig))
	}

	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to connect to history database", goerr.T(apperr.TagConnection))
	}
	if err := ensureSchema(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create history tables", goerr.V("schema", schema))
	}
	return &PostgresStore{db: db, schema: schema}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.report_runs (
			id uuid PRIMARY KEY,
			target_date date NOT NULL,
			query_version text NOT NULL,
			status text NOT NULL,
			csv_path text,
			emailed boolean NOT NULL DEFAULT false,
			error_kind text,
			error_message text,
			started_at timestamptz NOT NULL,
			finished_at timestamptz NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.report_run_values (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.report_runs(id) ON DELETE CASCADE,
			position integer NOT NULL,
			label text NOT NULL,
			value text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_report_runs_target_idx ON %s.report_runs (target_date)`, schema, schema))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_report_run_values_run_idx ON %s.report_run_values (run_id)`, schema, schema))
	return err
}

// Record stores the run and its values in one transaction.
func (s *PostgresStore) Record(ctx context.Context, run Run) (err error) {
	runID, err := uuid.Parse(run.ID)
	if err != nil {
		return goerr.Wrap(err, "invalid run id", goerr.V("run_id", run.ID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin history transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.report_runs (
			id, target_date, query_version, status, csv_path, emailed,
			error_kind, error_message, started_at, finished_at
		) VALUES (
			$1,$2::date,$3,$4,$5,$6,
			$7,$8,$9,$10
		)`, s.schema),
		runID,
		run.TargetDate.String(),
		run.QueryVersion,
		string(run.Status),
		nullString(run.CSVPath),
		run.Emailed,
		nullString(run.ErrorKind),
		nullString(run.ErrorMessage),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to record run", goerr.V("run_id", run.ID))
	}

	insertValueSQL := fmt.Sprintf(`
		INSERT INTO %s.report_run_values (
			id, run_id, position, label, value
		) VALUES (
			$1,$2,$3,$4,$5
		)`, s.schema)

	for i, v := range run.Values {
		_, err = tx.ExecContext(ctx, insertValueSQL,
			uuid.New(),
			runID,
			i,
			v.Label,
			v.Value,
		)
		if err != nil {
			return goerr.Wrap(err, "failed to record run value",
				goerr.V("run_id", run.ID),
				goerr.V("label", v.Label))
		}
	}

	if err = tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit history transaction", goerr.V("run_id", run.ID))
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id::text, target_date::text, query_version, status, csv_path, emailed,
			error_kind, error_message, started_at, finished_at
		FROM %s.report_runs
		ORDER BY started_at DESC
		LIMIT $1`, s.schema), limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                              Run
			date, status                     string
			csvPath, errorKind, errorMessage sql.NullString
		)
		if err := rows.Scan(&run.ID, &date, &run.QueryVersion, &status, &csvPath, &run.Emailed,
			&errorKind, &errorMessage, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan run")
		}
		if run.TargetDate, err = report.ParseDate(date); err != nil {
			return nil, goerr.Wrap(err, "invalid stored target date", goerr.V("run_id", run.ID))
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
	rows.Close()

	for i := range runs {
		if runs[i].Values, err = s.values(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *PostgresStore) values(ctx context.Context, runID string) ([]Value, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT label, value FROM %s.report_run_values
		WHERE run_id = $1::uuid
		ORDER BY position`, s.schema), runID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load run values", goerr.V("run_id", runID))
	}
	defer rows.Close()

	var values []Value
	for rows.Next() {
		var v Value
		if err := rows.Scan(&v.Label, &v.Value); err != nil {
			return nil, goerr.Wrap(err, "failed to scan run value", goerr.V("run_id", runID))
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to load run values", goerr.V("run_id", runID))
	}
	return values, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
