package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/report"
)

// Config is loaded once at startup and passed to every stage.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Email    EmailConfig    `koanf:"email"`
	Report   ReportConfig   `koanf:"report"`
	Output   OutputConfig   `koanf:"output"`
	Archive  ArchiveConfig  `koanf:"archive"`
	History  HistoryConfig  `koanf:"history"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type DatabaseConfig struct {
	Host           string        `koanf:"host" validate:"required"`
	Port           int           `koanf:"port" validate:"required,min=1,max=65535"`
	Name           string        `koanf:"db_name" validate:"required"`
	User           string        `koanf:"user" validate:"required"`
	Password       string        `koanf:"password"`
	SSLMode        string        `koanf:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Schema         string        `koanf:"schema" validate:"required"`
	Timezone       string        `koanf:"timezone" validate:"required"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	QueryTimeout   time.Duration `koanf:"query_timeout" validate:"gt=0"`
}

// LogValue hides the password.
func (d DatabaseConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", d.Host),
		slog.Int("port", d.Port),
		slog.String("db_name", d.Name),
		slog.String("user", d.User),
		slog.String("schema", d.Schema),
		slog.String("timezone", d.Timezone),
	)
}

// Email transports.
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"
)

type EmailConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Transport      string        `koanf:"transport" validate:"oneof=smtp ses"`
	SESRegion      string        `koanf:"ses_region" validate:"required_if=Transport ses"`
	SMTPHost       string        `koanf:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort       int           `koanf:"smtp_port" validate:"required_if=Enabled true,omitempty,min=1,max=65535"`
	SenderEmail    string        `koanf:"sender_email" validate:"required_if=Enabled true,omitempty,email"`
	SenderPassword string        `koanf:"sender_password"`
	ReceiverEmail  string        `koanf:"receiver_email" validate:"required_if=Enabled true"`
	ReportName     string        `koanf:"report_name" validate:"required"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LogValue hides the password.
func (e EmailConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", e.Enabled),
		slog.String("transport", e.Transport),
		slog.String("smtp_host", e.SMTPHost),
		slog.Int("smtp_port", e.SMTPPort),
		slog.String("sender_email", e.SenderEmail),
		slog.String("receiver_email", e.ReceiverEmail),
	)
}

// Query error policies.
const (
	OnQueryErrorAbort = "abort"
	OnQueryErrorMark  = "mark"
)

type ReportConfig struct {
	// Timezone decides which calendar day "yesterday" is.
	Timezone     string         `koanf:"timezone" validate:"required"`
	Version      string         `koanf:"version"`
	OnQueryError string         `koanf:"on_query_error" validate:"oneof=abort mark"`
	Queries      []report.Query `koanf:"queries"`
}

// QuerySet returns the configured queries, or the built-in set when none are
// configured.
func (r ReportConfig) QuerySet() report.QuerySet {
	if len(r.Queries) == 0 {
		set := report.DefaultQuerySet()
		if r.Version != "" {
			set.Version = r.Version
		}
		return set
	}
	version := r.Version
	if version == "" {
		version = "custom"
	}
	return report.QuerySet{Version: version, Queries: r.Queries}
}

// Location loads the report timezone.
func (r ReportConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid report timezone",
			goerr.V("timezone", r.Timezone),
			goerr.T(apperr.TagConfig))
	}
	return loc, nil
}

type OutputConfig struct {
	Dir        string `koanf:"dir" validate:"required"`
	FilePrefix string `koanf:"file_prefix" validate:"required"`
	LogDir     string `koanf:"log_dir"`
	LogPrefix  string `koanf:"log_prefix" validate:"required"`
}

// ArchiveConfig enables uploading the CSV to S3 after it is written.
type ArchiveConfig struct {
	S3Bucket string `koanf:"s3_bucket"`
	S3Prefix string `koanf:"s3_prefix"`
	Region   string `koanf:"region"`
}

// Enabled reports whether a bucket is configured.
func (a ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(a.S3Bucket) != ""
}

// Supported history drivers.
const (
	HistoryNone     = "none"
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
)

type HistoryConfig struct {
	Driver string `koanf:"driver" validate:"oneof=none sqlite postgres"`
	Path   string `koanf:"path" validate:"required_if=Driver sqlite"`
	DSN    string `koanf:"dsn" validate:"required_if=Driver postgres"`
	Schema string `koanf:"schema"`
}

// LogValue hides the DSN, which usually embeds credentials.
func (h HistoryConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("driver", h.Driver),
		slog.String("path", h.Path),
		slog.String("schema", h.Schema),
	)
}

type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

var validate = validator.New()

// Validate checks field constraints and the query set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return goerr.Wrap(err, "configuration validation failed", goerr.T(apperr.TagConfig))
	}
	if err := c.Report.QuerySet().Validate(); err != nil {
		return goerr.Wrap(err, "invalid report queries", goerr.T(apperr.TagConfig))
	}
	if _, err := c.Report.Location(); err != nil {
		return err
	}
	return nil
}

// LogDirectory returns the directory for run log files, defaulting to the output
// directory.
func (o OutputConfig) LogDirectory() string {
	if strings.TrimSpace(o.LogDir) == "" {
		return o.Dir
	}
	return o.LogDir
}
