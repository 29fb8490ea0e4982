package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/report"
)

// Body is the fixed plaintext body of the report email.
const Body = "Hi Team,\n\nPlease find attached the daily report CSV file for Social+.\n\nThank you"

// Message is a fully rendered email ready for delivery.
type Message struct {
	From string
	To   []string
	Raw  []byte
}

// Envelope describes one report email.
type Envelope struct {
	From       string
	To         []string
	ReportName string
	Date       report.Date
	Attachment string
	RunID      string
	Now        time.Time
}

// Subject returns "<name> Daily Report for <date>".
func Subject(reportName string, date report.Date) string {
	return fmt.Sprintf("%s Daily Report for %s", reportName, date)
}

// BuildMessage renders a multipart/mixed message with the plaintext body and
// the CSV attached as application/octet-stream.
func BuildMessage(env Envelope) (*Message, error) {
	data, err := os.ReadFile(env.Attachment)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read attachment",
			goerr.V("path", env.Attachment),
			goerr.T(apperr.TagEmail))
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ key, value string }{
		{"From", env.From},
		{"To", strings.Join(env.To, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", Subject(env.ReportName, env.Date))},
		{"Date", env.Now.Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(env.From))},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary())},
	}
	if env.RunID != "" {
		headers = append(headers, struct{ key, value string }{"X-Report-Run-ID", env.RunID})
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create body part", goerr.T(apperr.TagEmail))
	}
	if _, err := text.Write([]byte(strings.ReplaceAll(Body, "\n", "\r\n"))); err != nil {
		return nil, goerr.Wrap(err, "failed to write body", goerr.T(apperr.TagEmail))
	}

	filename := filepath.Base(env.Attachment)
	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType("application/octet-stream", map[string]string{"name": filename})},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": filename})},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attachment part", goerr.T(apperr.TagEmail))
	}
	if err := writeBase64Lines(attachment, data); err != nil {
		return nil, goerr.Wrap(err, "failed to encode attachment", goerr.T(apperr.TagEmail))
	}
	if err := mw.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to finish message", goerr.T(apperr.TagEmail))
	}

	return &Message{From: env.From, To: env.To, Raw: buf.Bytes()}, nil
}

// base64 body lines are limited to 76 characters.
const base64LineLength = 76

func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > base64LineLength {
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:base64LineLength]); err != nil {
			return err
		}
		encoded = encoded[base64LineLength:]
	}
	if encoded == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "%s\r\n", encoded)
	return err
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}
