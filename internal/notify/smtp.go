package notify

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
)

// SMTPMailer delivers messages through an authenticated STARTTLS relay.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

func NewSMTPMailer(host string, port int, username, password string, timeout time.Duration) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

// Send dials the relay, upgrades to TLS, authenticates and submits msg to
// all of its recipients in one transaction. The timeout bounds the whole
// session.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to SMTP server",
			goerr.V("addr", addr),
			goerr.T(apperr.TagEmail))
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return goerr.Wrap(err, "failed to set SMTP deadline", goerr.T(apperr.TagEmail))
		}
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return goerr.Wrap(err, "failed to create SMTP client",
			goerr.V("addr", addr),
			goerr.T(apperr.TagEmail))
	}
	defer func() { _ = client.Close() }()

	tlsConfig := &tls.Config{
		ServerName: m.host,
		MinVersion: tls.VersionTLS12,
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		return goerr.Wrap(err, "failed to start TLS", goerr.V("addr", addr), goerr.T(apperr.TagEmail))
	}

	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := client.Auth(auth); err != nil {
			return goerr.Wrap(err, "SMTP authentication failed",
				goerr.V("user", m.username),
				goerr.T(apperr.TagEmail))
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return goerr.Wrap(err, "failed to set sender", goerr.V("from", msg.From), goerr.T(apperr.TagEmail))
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return goerr.Wrap(err, "failed to set recipient", goerr.V("to", rcpt), goerr.T(apperr.TagEmail))
		}
	}

	writer, err := client.Data()
	if err != nil {
		return goerr.Wrap(err, "failed to start message", goerr.T(apperr.TagEmail))
	}
	if _, err := writer.Write(msg.Raw); err != nil {
		return goerr.Wrap(err, "failed to write message", goerr.T(apperr.TagEmail))
	}
	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close message", goerr.T(apperr.TagEmail))
	}

	// the message is accepted once DATA closes
	_ = client.Quit()
	return nil
}
