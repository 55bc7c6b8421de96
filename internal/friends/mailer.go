package friends

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/oralhistory/backend/internal/logging"
)

// Message is a transactional email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const resendTimeout = 10 * time.Second

// ResendMailer sends email through the Resend API.
type ResendMailer struct {
	from   string
	client *resend.Client
}

// NewResendMailer returns a mailer using apiKey, or a LogMailer when the key
// is empty.
func NewResendMailer(apiKey, from string) Mailer {
	if apiKey == "" {
		return LogMailer{}
	}
	return newResendMailer(resend.NewCustomClient(&http.Client{Timeout: resendTimeout}, apiKey), from)
}

func newResendMailer(client *resend.Client, from string) *ResendMailer {
	return &ResendMailer{from: from, client: client}
}

// Send hands msg to Resend.
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	logging.FromContext(ctx).Debug("email sent", slog.String("resend_id", sent.Id))
	return nil
}

// LogMailer logs messages instead of sending them.
type LogMailer struct{}

// Send logs the recipient and subject.
func (LogMailer) Send(ctx context.Context, msg Message) error {
	logging.FromContext(ctx).Info("email not sent; no mail provider configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

func inviteMessage(to, inviter, link string) Message {
	subject := fmt.Sprintf("%s invited you to share stories", inviter)
	return Message{
		To:      to,
		Subject: subject,
		Text: fmt.Sprintf("%s would like to be your friend on Oral History.\n\nAccept the invitation: %s\n\nThe link expires in 7 days.",
			inviter, link),
		HTML: fmt.Sprintf(`<p>%s would like to be your friend on Oral History.</p><p><a href="%s">Accept the invitation</a></p><p>The link expires in 7 days.</p>`,
			html.EscapeString(inviter), html.EscapeString(link)),
	}
}
