// Package mailer delivers out-of-band verification codes.
package mailer

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"

	"github.com/resend/resend-go/v3"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
)

// Purpose selects the message template.
type Purpose string

const (
	PurposeSignup             Purpose = "signup"
	PurposeEmailVerification  Purpose = "email_verification"
	PurposePasswordReset      Purpose = "password_reset"
	PurposeAccountAssociation Purpose = "account_association"
)

// CodeMessage is one code delivery.
type CodeMessage struct {
	To      string
	Purpose Purpose
	Code    string
}

// Mailer sends code messages.
type Mailer interface {
	SendCode(ctx context.Context, msg CodeMessage) error
}

func subject(p Purpose) string {
	switch p {
	case PurposeSignup:
		return "Confirm your email to finish signing up"
	case PurposeEmailVerification:
		return "Verify your email address"
	case PurposePasswordReset:
		return "Your password reset code"
	case PurposeAccountAssociation:
		return "Confirm linking your account"
	default:
		return "Your verification code"
	}
}

func render(msg CodeMessage) (text, htmlBody string) {
	text = fmt.Sprintf("Your verification code is %s.\n\nIf you did not request this, you can ignore this email.\n", msg.Code)
	htmlBody = fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family:Arial,Helvetica,sans-serif;">
  <p>Your verification code is:</p>
  <p style="font-size:28px;letter-spacing:6px;font-weight:bold;">%s</p>
  <p style="color:#64748b;font-size:13px;">If you did not request this, you can ignore this email.</p>
</body>
</html>`, html.EscapeString(msg.Code))
	return text, htmlBody
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer returns a mailer using apiKey. from must be on a verified Resend domain.
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}
}

// NewResendMailerWithClient wraps an existing client.
func NewResendMailerWithClient(client *resend.Client, from string) *ResendMailer {
	return &ResendMailer{client: client, from: from}
}

func (m *ResendMailer) SendCode(ctx context.Context, msg CodeMessage) error {
	text, htmlBody := render(msg)
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: subject(msg.Purpose),
		Text:    text,
		Html:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("mailer: send %s: %w", msg.Purpose, err)
	}
	return nil
}

// LogMailer only logs that a message would be sent. The code is never logged.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a LogMailer writing to logger.
func NewLogMailer(logger *slog.Logger) *LogMailer { return &LogMailer{logger: logger} }

func (m *LogMailer) SendCode(ctx context.Context, msg CodeMessage) error {
	m.logger.InfoContext(ctx, "mailer.send", "to", identity.MaskEmail(msg.To), "purpose", string(msg.Purpose))
	return nil
}

// Recorder keeps every message in memory. Tests read codes from it.
type Recorder struct {
	mu   sync.Mutex
	sent []CodeMessage
}

func (r *Recorder) SendCode(_ context.Context, msg CodeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of every recorded message.
func (r *Recorder) Sent() []CodeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CodeMessage(nil), r.sent...)
}

// Last returns the most recent message for to and purpose.
func (r *Recorder) Last(to string, p Purpose) (CodeMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == to && r.sent[i].Purpose == p {
			return r.sent[i], true
		}
	}
	return CodeMessage{}, false
}
