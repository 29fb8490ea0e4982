package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
	"socialplus-report/internal/history"
)

func cmdHistory(configPath *string) *cli.Command {
	var limit int

	return &cli.Command{
		Name:  "history",
		Usage: "List recent report runs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "Number of runs to show",
				Value:       10,
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := listHistory(ctx, *configPath, limit, os.Stdout); err != nil {
				apperr.Handle(ctx, err)
				return err
			}
			return nil
		},
	}
}

func listHistory(ctx context.Context, configPath string, limit int, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.History.Driver == config.HistoryNone {
		return goerr.New("run history is disabled; set history.driver", goerr.T(apperr.TagConfig))
	}
	if limit <= 0 {
		return goerr.New("--limit must be positive", goerr.V("limit", limit), goerr.T(apperr.TagConfig))
	}

	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	printRuns(w, runs)
	return nil
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintln(w, "Social+ report runs")
	fmt.Fprintln(w, strings.Repeat("=", 38))
	for _, run := range runs {
		emailed := "no"
		if run.Emailed {
			emailed = "yes"
		}
		fmt.Fprintf(w, "%s | %s | %s | queries v%s | emailed %s | %s | %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.TargetDate,
			run.Status,
			run.QueryVersion,
			emailed,
			run.Duration().Round(time.Millisecond),
			run.ID,
		)
		if run.ErrorKind != "" {
			fmt.Fprintf(w, "    %s: %s\n", run.ErrorKind, run.ErrorMessage)
		}
	}
}
