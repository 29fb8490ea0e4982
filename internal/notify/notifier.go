package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"

	"socialplus-report/internal/report"
)

// Mailer submits a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// Notifier emails the report artifact to a fixed recipient list.
type Notifier struct {
	mailer     Mailer
	from       string
	to         []string
	reportName string
	now        func() time.Time
}

func NewNotifier(mailer Mailer, from string, to []string, reportName string) *Notifier {
	return &Notifier{
		mailer:     mailer,
		from:       from,
		to:         to,
		reportName: reportName,
		now:        time.Now,
	}
}

// Notify sends the CSV at attachment as the report for date.
func (n *Notifier) Notify(ctx context.Context, date report.Date, attachment, runID string) error {
	msg, err := BuildMessage(Envelope{
		From:       n.from,
		To:         n.to,
		ReportName: n.reportName,
		Date:       date,
		Attachment: attachment,
		RunID:      runID,
		Now:        n.now(),
	})
	if err != nil {
		return err
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return err
	}

	ctxlog.From(ctx).Info("Email sent",
		slog.String("to", strings.Join(n.to, ", ")),
		slog.String("subject", Subject(n.reportName, date)),
	)
	return nil
}
