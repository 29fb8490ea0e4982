package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/config"
	"socialplus-report/internal/history"
	"socialplus-report/internal/logging"
	"socialplus-report/internal/notify"
	"socialplus-report/internal/pipeline"
	"socialplus-report/internal/report"
)

type reportCommand struct {
	logger     *loggerConfig
	configPath *string

	date      string
	skipEmail bool
	now       func() time.Time
}

func (r *reportCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "date",
			Usage:       "Report date (YYYY-MM-DD); defaults to yesterday in report.timezone",
			Category:    "Report",
			Sources:     cli.EnvVars(config.EnvPrefix + "DATE"),
			Destination: &r.date,
		},
		&cli.BoolFlag{
			Name:        "skip-email",
			Usage:       "Write the CSV but do not send the email",
			Category:    "Report",
			Sources:     cli.EnvVars(config.EnvPrefix + "SKIP_EMAIL"),
			Destination: &r.skipEmail,
		},
	}
}

// Action runs one report. Email failures are logged by the pipeline and do
// not fail the command.
func (r *reportCommand) Action(ctx context.Context, _ *cli.Command) error {
	return r.run(ctx)
}

func (r *reportCommand) run(ctx context.Context) (err error) {
	cfg, err := config.Load(*r.configPath)
	if err != nil {
		apperr.Handle(ctx, err)
		return err
	}

	date, err := r.targetDate(cfg)
	if err != nil {
		apperr.Handle(ctx, err)
		return err
	}

	runLog, err := logging.OpenRunLog(cfg.Output.LogDirectory(), cfg.Output.LogPrefix, date)
	if err != nil {
		apperr.Handle(ctx, err)
		return err
	}
	defer func() { _ = runLog.Close() }()

	logger := logging.WithRunLog(ctxlog.From(ctx), runLog, r.logger.level())
	ctx = ctxlog.With(ctx, logger)
	defer func() {
		if err != nil {
			apperr.Handle(ctx, err)
		}
	}()

	logger.Info("Configuration loaded",
		slog.Any("database", cfg.Database),
		slog.Any("email", cfg.Email),
		slog.Any("history", cfg.History),
		slog.Bool("archive", cfg.Archive.Enabled()),
		slog.String("target_date", date.String()),
	)

	opts := []pipeline.Option{}

	if cfg.Email.Enabled && !r.skipEmail {
		notifier, nerr := newNotifier(ctx, cfg.Email)
		if nerr != nil {
			logger.Error("Email setup failed, the report will not be sent",
				slog.String("kind", string(apperr.KindOf(nerr))),
				slog.Any("error", nerr),
			)
			opts = append(opts, pipeline.WithNotifier(&unsentNotifier{cause: nerr}))
		} else {
			opts = append(opts, pipeline.WithNotifier(notifier))
		}
	}

	if cfg.Archive.Enabled() {
		archiver, err := newArchiver(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
	}

	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		logger.Warn("Run history disabled", slog.Any("error", err))
		store = history.Nop{}
	}
	defer func() { _ = store.Close() }()
	opts = append(opts, pipeline.WithHistory(store))

	_, err = pipeline.New(cfg, opts...).Run(ctx, date)
	return err
}

func (r *reportCommand) targetDate(cfg *config.Config) (report.Date, error) {
	if r.date != "" {
		date, err := report.ParseDate(r.date)
		if err != nil {
			return report.Date{}, goerr.Wrap(err, "invalid --date", goerr.T(apperr.TagConfig))
		}
		return date, nil
	}

	loc, err := cfg.Report.Location()
	if err != nil {
		return report.Date{}, err
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return report.TargetDate(now(), loc), nil
}

func newNotifier(ctx context.Context, cfg config.EmailConfig) (*notify.Notifier, error) {
	recipients, err := notify.ParseRecipients(cfg.ReceiverEmail)
	if err != nil {
		return nil, err
	}
	mailer, err := newMailer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(mailer, cfg.SenderEmail, recipients, cfg.ReportName), nil
}

// unsentNotifier stands in when email delivery could not be set up, so the
// report is still produced and the email stage fails on its own.
type unsentNotifier struct {
	cause error
}

func (n *unsentNotifier) Notify(_ context.Context, date report.Date, attachment, _ string) error {
	return goerr.New("email not sent",
		goerr.V("cause", n.cause.Error()),
		goerr.V("date", date.String()),
		goerr.V("attachment", attachment),
		goerr.T(apperr.TagEmail))
}
