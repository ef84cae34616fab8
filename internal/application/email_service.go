package application

import (
	"context"
	"expvar"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/internal/domain/command"
	"github.com/oksasatya/emailme/pkg/messaging"
)

var (
	emailsEnqueued = expvar.NewInt("emails_enqueued")
	emailsFailed   = expvar.NewInt("emails_enqueue_failed")
)

// CommandPublisher puts a command on the queue. *messaging.Dispatcher
// implements it.
type CommandPublisher interface {
	PublishMessage(ctx context.Context, cmd messaging.Command) error
}

// EmailRequest is the validated input of the email form.
type EmailRequest struct {
	Subject   string
	Body      string
	Recipient string
}

// EmailService is the producer side of the email queue.
type EmailService struct {
	Publisher CommandPublisher
	Logger    *logrus.Logger
}

func NewEmailService(pub CommandPublisher, logger *logrus.Logger) *EmailService {
	return &EmailService{Publisher: pub, Logger: logger}
}

// SendEmail enqueues an EmailCommand for the worker. It returns
// command.ErrInvalidCommand for incomplete input and messaging.ErrPublish
// when the broker did not accept the message.
func (s *EmailService) SendEmail(ctx context.Context, req EmailRequest) error {
	cmd, err := command.NewEmailCommand(req.Subject, req.Body, req.Recipient)
	if err != nil {
		return err
	}
	if err := s.Publisher.PublishMessage(ctx, cmd); err != nil {
		emailsFailed.Add(1)
		if s.Logger != nil {
			s.Logger.WithError(err).WithFields(cmd.LogFields()).Error("failed to enqueue email")
		}
		return err
	}
	emailsEnqueued.Add(1)
	if s.Logger != nil {
		s.Logger.WithFields(cmd.LogFields()).Info("email enqueued")
	}
	return nil
}
