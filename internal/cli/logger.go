package cli

import (
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/logging"
)

type loggerConfig struct {
	Level  string
	Format string
}

func (l *loggerConfig) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Category:    "Logging",
			Value:       "info",
			Sources:     cli.EnvVars("SOCIALPLUS_LOG_LEVEL"),
			Destination: &l.Level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Console log format (console, json, auto)",
			Category:    "Logging",
			Value:       "auto",
			Sources:     cli.EnvVars("SOCIALPLUS_LOG_FORMAT"),
			Destination: &l.Format,
		},
	}
}

func (l *loggerConfig) level() slog.Level {
	return logging.ParseLogLevel(l.Level)
}

// Configure builds the console logger.
func (l *loggerConfig) Configure() (*slog.Logger, error) {
	format, ok := logging.ParseFormat(l.Format)
	if !ok {
		return nil, goerr.New("invalid log format",
			goerr.V("format", l.Format),
			goerr.T(apperr.TagConfig))
	}
	return logging.NewLogger(l.level(), os.Stdout, format), nil
}

func (l loggerConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("level", l.Level),
		slog.String("format", l.Format),
	)
}
