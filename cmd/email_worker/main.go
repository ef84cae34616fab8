package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/config"
	"github.com/oksasatya/emailme/internal/application"
	"github.com/oksasatya/emailme/internal/domain/command"
	"github.com/oksasatya/emailme/pkg/helpers"
	"github.com/oksasatya/emailme/pkg/mailer"
	"github.com/oksasatya/emailme/pkg/messaging"
)

const stopTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-worker", cfg.Env, cfg.LogLevel)

	ackMode, err := messaging.ParseAckMode(cfg.MQAckMode)
	if err != nil {
		helpers.LogError(logger, "invalid MQ_ACK_MODE", err, nil)
		return 1
	}

	dispatcher := messaging.NewDispatcher(logger,
		messaging.WithAppName(cfg.AppName+"-worker"),
		messaging.WithAckMode(ackMode),
		messaging.WithDialRetry(cfg.MQDialRetries, cfg.MQDialBackoff),
	)
	if err := dispatcher.Configure(cfg.Broker); err != nil {
		helpers.LogError(logger, "invalid broker configuration", err, nil)
		return 1
	}

	handler := application.NewEmailDeliveryHandler(newSender(cfg, logger), logger)
	if err := messaging.Register[command.EmailCommand](dispatcher, command.DecodeEmailCommand, handler); err != nil {
		helpers.LogError(logger, "register email handler", err, nil)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Blocking: Start returns when the loop ends. Otherwise wait on Done.
	if err := dispatcher.Start(ctx); err != nil {
		helpers.LogError(logger, "email worker stopped", err, logrus.Fields{"queue": cfg.Broker.Queue})
		return 1
	}
	select {
	case <-dispatcher.Done():
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			helpers.LogError(logger, "email worker did not drain in time", err, nil)
			return 1
		}
	}

	if err := dispatcher.Err(); err != nil {
		if errors.Is(err, messaging.ErrConnection) {
			helpers.LogError(logger, "lost broker connection", err, nil)
		} else {
			helpers.LogError(logger, "email worker stopped", err, nil)
		}
		return 1
	}
	helpers.LogInfo(logger, "email worker exited", nil)
	return 0
}

// newSender picks Mailgun when sending is enabled and configured, and a
// log-only sender otherwise.
func newSender(cfg *config.Config, logger *logrus.Logger) mailer.Sender {
	if !cfg.MailSendEnabled {
		logger.Info("MAIL_SEND_ENABLED=false; emails are logged, not sent")
		return mailer.NewLogSender(logger)
	}
	if !cfg.MailgunConfigured() {
		logger.Warn("mailgun not configured; emails are logged, not sent")
		return mailer.NewLogSender(logger)
	}
	return mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender, cfg.MailgunAPIBase)
}
