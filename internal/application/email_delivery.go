package application

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/internal/domain/command"
	"github.com/oksasatya/emailme/pkg/mailer"
)

// EmailDeliveryHandler sends the email described by an EmailCommand.
type EmailDeliveryHandler struct {
	Sender mailer.Sender
	Logger *logrus.Logger
}

func NewEmailDeliveryHandler(sender mailer.Sender, logger *logrus.Logger) *EmailDeliveryHandler {
	return &EmailDeliveryHandler{Sender: sender, Logger: logger}
}

func (h *EmailDeliveryHandler) Handle(ctx context.Context, cmd command.EmailCommand) error {
	if h.Logger != nil {
		h.Logger.WithFields(cmd.LogFields()).Infof("Sending email to %s", cmd.Recipient())
	}
	return h.Sender.Send(ctx, mailer.Message{
		To:      cmd.Recipient(),
		Subject: cmd.Subject(),
		Text:    cmd.Body(),
	})
}
