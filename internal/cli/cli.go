// Package cli wires configuration, logging and the report pipeline behind the
// socialplus-report command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/urfave/cli/v3"

	"socialplus-report/internal/config"
)

// Run runs the CLI application. Errors returned from command actions have
// already been logged.
func Run(ctx context.Context, args []string) error {
	var (
		loggerCfg  loggerConfig
		configPath string
	)

	flags := joinFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to the YAML configuration file",
				Sources:     cli.EnvVars(config.EnvPrefix + "CONFIG"),
				Destination: &configPath,
			},
		},
		loggerCfg.Flags(),
	)

	rc := &reportCommand{logger: &loggerCfg, configPath: &configPath}

	app := &cli.Command{
		Name:    "socialplus-report",
		Usage:   "Generate and email the daily Social+ report",
		Version: "1.0.0",
		Flags:   joinFlags(flags, rc.Flags()),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := loggerCfg.Configure()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				return nil, err
			}
			ctx = ctxlog.With(ctx, logger)
			return ctx, nil
		},
		Action: rc.Action,
		Commands: []*cli.Command{
			cmdQueries(&configPath),
			cmdHistory(&configPath),
		},
	}

	return app.Run(ctx, args)
}

func joinFlags(flags ...[]cli.Flag) []cli.Flag {
	var result []cli.Flag
	for _, f := range flags {
		result = append(result, f...)
	}
	return result
}
