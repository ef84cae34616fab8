package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/pkg/messaging"
)

// EmailCommandType is the routing key of EmailCommand on the queue.
const EmailCommandType = "EmailCommand"

var ErrInvalidCommand = errors.New("invalid command")

// EmailCommand asks the worker to send one plain-text email.
// Values are immutable; build them with NewEmailCommand.
type EmailCommand struct {
	subject   string
	body      string
	recipient string
}

func NewEmailCommand(subject, body, recipient string) (EmailCommand, error) {
	var missing []string
	if strings.TrimSpace(subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(body) == "" {
		missing = append(missing, "body")
	}
	if strings.TrimSpace(recipient) == "" {
		missing = append(missing, "recipient")
	}
	if len(missing) > 0 {
		return EmailCommand{}, fmt.Errorf("%w: %s required", ErrInvalidCommand, strings.Join(missing, ", "))
	}
	return EmailCommand{subject: subject, body: body, recipient: recipient}, nil
}

func (c EmailCommand) Subject() string   { return c.subject }
func (c EmailCommand) Body() string      { return c.body }
func (c EmailCommand) Recipient() string { return c.recipient }

func (EmailCommand) CommandType() string { return EmailCommandType }

func (c EmailCommand) Fields() messaging.Fields {
	return messaging.Fields{
		"subject":   c.subject,
		"body":      c.body,
		"recipient": c.recipient,
	}
}

// LogFields identifies the command in log lines. The body is left out.
func (c EmailCommand) LogFields() logrus.Fields {
	return logrus.Fields{"recipient": c.recipient, "subject": c.subject}
}

// DecodeEmailCommand rebuilds an EmailCommand from its wire fields.
func DecodeEmailCommand(f messaging.Fields) (EmailCommand, error) {
	subject, err := f.String("subject")
	if err != nil {
		return EmailCommand{}, err
	}
	body, err := f.String("body")
	if err != nil {
		return EmailCommand{}, err
	}
	recipient, err := f.String("recipient")
	if err != nil {
		return EmailCommand{}, err
	}
	cmd, err := NewEmailCommand(subject, body, recipient)
	if err != nil {
		return EmailCommand{}, fmt.Errorf("%w: %w", messaging.ErrDeserialization, err)
	}
	return cmd, nil
}
