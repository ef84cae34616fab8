package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/emailme/internal/domain/command"
	"github.com/oksasatya/emailme/pkg/mailer"
	"github.com/oksasatya/emailme/pkg/messaging"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []messaging.Command
}

func (p *fakePublisher) PublishMessage(_ context.Context, cmd messaging.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, cmd)
	return nil
}

type fakeSender struct {
	err  error
	sent []mailer.Message
}

func (s *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSendEmailPublishesCommand(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewEmailService(pub, quietLogger())

	err := svc.SendEmail(context.Background(), EmailRequest{Subject: "Hi", Body: "Hello", Recipient: "a@example.com"})
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	cmd, ok := pub.sent[0].(command.EmailCommand)
	require.True(t, ok)
	assert.Equal(t, "Hi", cmd.Subject())
	assert.Equal(t, "Hello", cmd.Body())
	assert.Equal(t, "a@example.com", cmd.Recipient())
}

func TestSendEmailInvalidRequest(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewEmailService(pub, quietLogger())

	err := svc.SendEmail(context.Background(), EmailRequest{Subject: "Hi", Recipient: "a@example.com"})
	assert.ErrorIs(t, err, command.ErrInvalidCommand)
	assert.Empty(t, pub.sent)
}

func TestSendEmailPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: fmt.Errorf("%w: EmailCommand: %w", messaging.ErrPublish, messaging.ErrConnection)}
	svc := NewEmailService(pub, nil)

	err := svc.SendEmail(context.Background(), EmailRequest{Subject: "Hi", Body: "Hello", Recipient: "a@example.com"})
	assert.ErrorIs(t, err, messaging.ErrPublish)
}

func TestDeliveryHandlerSendsEmail(t *testing.T) {
	sender := &fakeSender{}
	h := NewEmailDeliveryHandler(sender, quietLogger())
	cmd, err := command.NewEmailCommand("Hi", "Hello", "a@example.com")
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), cmd))
	assert.Equal(t, []mailer.Message{{To: "a@example.com", Subject: "Hi", Text: "Hello"}}, sender.sent)
}

func TestDeliveryHandlerReturnsSenderError(t *testing.T) {
	sendErr := errors.New("mailgun: 401 unauthorized")
	h := NewEmailDeliveryHandler(&fakeSender{err: sendErr}, nil)
	cmd, err := command.NewEmailCommand("Hi", "Hello", "a@example.com")
	require.NoError(t, err)

	assert.ErrorIs(t, h.Handle(context.Background(), cmd), sendErr)
}

// The handler satisfies the typed registration contract of the dispatcher.
var _ messaging.Handler[command.EmailCommand] = (*EmailDeliveryHandler)(nil)
