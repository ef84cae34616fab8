package mailer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Message is a single plain-text email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs the email it is asked to send. The worker falls back to
// it when real sending is disabled or Mailgun is not configured.
type LogSender struct {
	Logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{Logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.WithFields(logrus.Fields{
		"recipient": msg.To,
		"subject":   msg.Subject,
		"bytes":     len(msg.Text),
	}).Info("mail sending disabled, email not delivered")
	return nil
}
