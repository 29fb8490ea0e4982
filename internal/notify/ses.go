package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
)

// SESAPI is the subset of the SES client used for delivery.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESMailer submits the rendered message through Amazon SES.
type SESMailer struct {
	client SESAPI
}

func NewSESMailer(client SESAPI) *SESMailer {
	return &SESMailer{client: client}
}

func (m *SESMailer) Send(ctx context.Context, msg *Message) error {
	out, err := m.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		RawMessage:   &sestypes.RawMessage{Data: msg.Raw},
		Source:       aws.String(msg.From),
		Destinations: msg.To,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to send email through SES",
			goerr.V("from", msg.From),
			goerr.T(apperr.TagEmail))
	}
	if out.MessageId == nil {
		return goerr.New("SES returned no message id", goerr.T(apperr.TagEmail))
	}
	return nil
}
