package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/socialplus/config.yaml",
}

// EnvPrefix is stripped from environment variables before mapping.
const EnvPrefix = "SOCIALPLUS_"

// Default returns the configuration used before the file and environment
// are applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:           5432,
			SSLMode:        "prefer",
			Schema:         "simosa_feed",
			Timezone:       "Asia/Karachi",
			ConnectTimeout: 15 * time.Second,
			QueryTimeout:   5 * time.Minute,
		},
		Email: EmailConfig{
			Enabled:    true,
			Transport:  TransportSMTP,
			SMTPHost:   "smtp.gmail.com",
			SMTPPort:   587,
			ReportName: "Social+",
			Timeout:    30 * time.Second,
		},
		Report: ReportConfig{
			Timezone:     "Local",
			OnQueryError: OnQueryErrorAbort,
		},
		Output: OutputConfig{
			Dir:        ".",
			FilePrefix: "socialplus",
			LogPrefix:  "socialpluslog",
		},
		History: HistoryConfig{
			Driver: HistoryNone,
			Schema: "socialplus_report",
		},
	}
}

// Load layers defaults, the YAML file at path (or the first default path
// that exists) and SOCIALPLUS_* environment variables, then validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, goerr.Wrap(err, "failed to load defaults", goerr.T(apperr.TagConfig))
	}

	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, goerr.Wrap(err, "failed to load config file",
				goerr.V("path", configPath),
				goerr.T(apperr.TagConfig))
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, goerr.Wrap(err, "failed to load environment variables", goerr.T(apperr.TagConfig))
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal configuration", goerr.T(apperr.TagConfig))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns path when set (it must exist), otherwise the first
// existing default path, otherwise "".
func findConfigFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", goerr.Wrap(err, "configuration file not found",
				goerr.V("path", path),
				goerr.T(apperr.TagConfig))
		}
		return path, nil
	}
	for _, candidate := range DefaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

var envMappings = map[string]string{
	"db_host":            "database.host",
	"db_port":            "database.port",
	"db_name":            "database.db_name",
	"db_user":            "database.user",
	"db_password":        "database.password",
	"db_sslmode":         "database.sslmode",
	"db_schema":          "database.schema",
	"db_timezone":        "database.timezone",
	"db_connect_timeout": "database.connect_timeout",
	"db_query_timeout":   "database.query_timeout",

	"email_enabled":         "email.enabled",
	"email_transport":       "email.transport",
	"ses_region":            "email.ses_region",
	"smtp_host":             "email.smtp_host",
	"smtp_port":             "email.smtp_port",
	"sender_email":          "email.sender_email",
	"sender_password":       "email.sender_password",
	"receiver_email":        "email.receiver_email",
	"email_report_name":     "email.report_name",
	"email_timeout":         "email.timeout",
	"report_timezone":       "report.timezone",
	"report_version":        "report.version",
	"report_on_query_error": "report.on_query_error",

	"output_dir":         "output.dir",
	"output_file_prefix": "output.file_prefix",
	"output_log_dir":     "output.log_dir",
	"output_log_prefix":  "output.log_prefix",

	"archive_s3_bucket": "archive.s3_bucket",
	"archive_s3_prefix": "archive.s3_prefix",
	"archive_region":    "archive.region",

	"history_driver": "history.driver",
	"history_path":   "history.path",
	"history_dsn":    "history.dsn",
	"history_schema": "history.schema",

	"metrics_textfile": "metrics.textfile",
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	// unmapped variables are skipped
	return ""
}
