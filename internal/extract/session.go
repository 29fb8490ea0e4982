package extract

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
)

// Session is one pinned database connection used for a whole run.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
	// ownsDB is false when the pool was handed in by the caller.
	ownsDB bool
}

// DSN builds a postgres URL from the database configuration.
func DSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects to Postgres and pins one connection. The connect timeout
// bounds both the dial and the first ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Session, error) {
	connConfig, err := pgx.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid database configuration",
			goerr.V("host", cfg.Host),
			goerr.V("db_name", cfg.Name),
			goerr.T(apperr.TagConfig))
	}
	connConfig.ConnectTimeout = cfg.ConnectTimeout
	connConfig.RuntimeParams["client_encoding"] = "UTF8"
	connConfig.RuntimeParams["application_name"] = "socialplus-report"

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	sess, err := newSession(ctx, db, true)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to database",
			goerr.V("host", cfg.Host),
			goerr.V("port", cfg.Port),
			goerr.V("db_name", cfg.Name),
			goerr.T(apperr.TagConnection))
	}
	return sess, nil
}

// NewSession pins a connection from an existing pool. Closing the session
// returns the connection but leaves the pool open.
func NewSession(ctx context.Context, db *sql.DB) (*Session, error) {
	sess, err := newSession(ctx, db, false)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to acquire connection", goerr.T(apperr.TagConnection))
	}
	return sess, nil
}

func newSession(ctx context.Context, db *sql.DB, ownsDB bool) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		if ownsDB {
			_ = db.Close()
		}
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		if ownsDB {
			_ = db.Close()
		}
		return nil, err
	}
	return &Session{db: db, conn: conn, ownsDB: ownsDB}, nil
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SanitizeSchema validates a schema name as a plain SQL identifier.
func SanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", goerr.New("db schema is required")
	}
	if !identifierPattern.MatchString(value) {
		return "", goerr.New("invalid schema name", goerr.V("schema", value))
	}
	return value, nil
}

// Configure sets the session search path and timezone. Both must be in place
// before the first report query since date boundaries depend on them.
func (s *Session) Configure(ctx context.Context, schema, timezone string) error {
	logger := ctxlog.From(ctx)

	schema, err := SanitizeSchema(schema)
	if err != nil {
		return goerr.Wrap(err, "failed to set search path", goerr.T(apperr.TagConfig))
	}
	if _, err := s.conn.ExecContext(ctx, `SELECT set_config('search_path', $1, false)`, schema); err != nil {
		return goerr.Wrap(err, "failed to set search path",
			goerr.V("schema", schema),
			goerr.T(apperr.TagConnection))
	}
	logger.Info("Schema set", slog.String("schema", schema))

	if _, err := s.conn.ExecContext(ctx, `SELECT set_config('TimeZone', $1, false)`, timezone); err != nil {
		return goerr.Wrap(err, "failed to set timezone",
			goerr.V("timezone", timezone),
			goerr.T(apperr.TagConnection))
	}
	logger.Info("Timezone set", slog.String("timezone", timezone))
	return nil
}

// Close releases the connection, and the pool when the session opened it.
func (s *Session) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.ownsDB && s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
		s.db = nil
	}
	return err
}
