// Package mailer delivers bulk adjustment reports through Amazon SES.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"payment-orchestrator/internal/errors"
)

const reportSubject = "Bulk Topup Report"

// SESAPI is the part of the SES client the mailer uses.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

type Mailer struct {
	client SESAPI
	sender string
	cc     []string
	now    func() time.Time
	logger *slog.Logger
}

// New builds an SES client for region from the default AWS credential chain.
func New(ctx context.Context, region, sender string, cc []string, logger *slog.Logger) (*Mailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(ses.NewFromConfig(cfg), sender, cc, logger), nil
}

func NewWithClient(client SESAPI, sender string, cc []string, logger *slog.Logger) *Mailer {
	return &Mailer{
		client: client,
		sender: sender,
		cc:     cc,
		now:    time.Now,
		logger: logger,
	}
}

// SendReport mails report as a CSV attachment to recipient and the CC list.
func (m *Mailer) SendReport(ctx context.Context, recipient string, report []byte) error {
	destinations := make([]string, 0, len(m.cc)+1)
	for _, addr := range m.cc {
		if addr = strings.TrimSpace(addr); addr != "" {
			destinations = append(destinations, addr)
		}
	}
	if recipient != "" {
		destinations = append(destinations, recipient)
	}
	if len(destinations) == 0 {
		return errors.NewAppError(errors.ValidationFailure, "report has no recipients")
	}

	to := recipient
	if to == "" {
		to = destinations[0]
	}
	raw, err := m.rawMessage(to, report)
	if err != nil {
		return err
	}

	_, err = m.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(m.sender),
		Destinations: destinations,
		RawMessage:   &types.RawMessage{Data: raw},
	})
	if err != nil {
		m.logger.Error("Failed to send report email", "recipients", len(destinations), "error", err)
		return errors.Wrap(errors.InternalError, "Error while sending email using SES", err)
	}

	m.logger.Info("Report email sent", "to", to, "recipients", len(destinations))
	return nil
}

func (m *Mailer) rawMessage(to string, report []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	filename := fmt.Sprintf("bulk-topup-export-%s.csv", m.now().UTC().Format(time.RFC3339))
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("text/csv; name=%q", filename)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to build report email", err)
	}
	if _, err := part.Write([]byte(wrapBase64(report))); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to build report email", err)
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to build report email", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.sender)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", reportSubject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// wrapBase64 encodes data in 76 character lines.
func wrapBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	return b.String()
}
