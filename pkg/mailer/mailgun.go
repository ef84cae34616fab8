package mailer

import (
	"context"
	"errors"
	"time"

	mg "github.com/mailgun/mailgun-go/v4"
)

const sendTimeout = 10 * time.Second

// Mailgun wraps Mailgun client configuration.
type Mailgun struct {
	Domain string
	APIKey string
	Sender string

	// APIBase overrides the Mailgun endpoint, e.g. the EU region.
	APIBase string
}

func NewMailgun(domain, apiKey, sender, apiBase string) *Mailgun {
	return &Mailgun{Domain: domain, APIKey: apiKey, Sender: sender, APIBase: apiBase}
}

// Send sends msg via Mailgun. HTML is used as the HTML part when set.
func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("mailgun: recipient is required")
	}
	client := mg.NewMailgun(m.Domain, m.APIKey)
	if m.APIBase != "" {
		client.SetAPIBase(m.APIBase)
	}
	message := client.NewMessage(m.Sender, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}
	c, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, _, err := client.Send(c, message)
	return err
}
