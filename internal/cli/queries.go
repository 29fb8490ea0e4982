package cli

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
	"socialplus-report/internal/report"
)

func cmdQueries(configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "queries",
		Usage: "Print the effective query set as YAML",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				apperr.Handle(ctx, err)
				return err
			}
			if err := writeQueries(os.Stdout, cfg.Report.QuerySet()); err != nil {
				apperr.Handle(ctx, err)
				return err
			}
			return nil
		},
	}
}

func writeQueries(w io.Writer, set report.QuerySet) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(set); err != nil {
		return goerr.Wrap(err, "failed to encode query set")
	}
	if err := enc.Close(); err != nil {
		return goerr.Wrap(err, "failed to encode query set")
	}
	return nil
}
