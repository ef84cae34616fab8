package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/internal/application"
	"github.com/oksasatya/emailme/internal/domain/command"
	"github.com/oksasatya/emailme/pkg/messaging"
	"github.com/oksasatya/emailme/pkg/response"
	"github.com/oksasatya/emailme/pkg/validation"
)

// EmailSender is the producer facade used by the email form.
type EmailSender interface {
	SendEmail(ctx context.Context, req application.EmailRequest) error
}

type EmailHandler struct {
	Service EmailSender
	Logger  *logrus.Logger
}

func NewEmailHandler(svc EmailSender, logger *logrus.Logger) *EmailHandler {
	return &EmailHandler{Service: svc, Logger: logger}
}

type sendEmailRequest struct {
	Subject   string `json:"subject" form:"subject" binding:"required,max=100"`
	Body      string `json:"body" form:"body" binding:"required,max=1000"`
	Recipient string `json:"recipient" form:"recipient" binding:"required,email,max=100"`
}

// Send validates the email form and enqueues an EmailCommand. Accepts JSON or
// form-encoded bodies.
func (h *EmailHandler) Send(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	err := h.Service.SendEmail(c.Request.Context(), application.EmailRequest{
		Subject:   req.Subject,
		Body:      req.Body,
		Recipient: req.Recipient,
	})
	switch {
	case err == nil:
		response.Success[any](c, http.StatusAccepted,
			map[string]any{"recipient": req.Recipient},
			"You have successfully sent an email to "+req.Recipient, nil)
	case errors.Is(err, command.ErrInvalidCommand):
		response.Error[any](c, http.StatusBadRequest, "invalid payload", err.Error())
	case errors.Is(err, messaging.ErrPublish):
		if h.Logger != nil {
			h.Logger.WithError(err).WithField("request_id", c.GetString("request_id")).Warn("failed to publish email command")
		}
		response.Error[any](c, http.StatusBadGateway, "failed to send email", nil)
	default:
		if h.Logger != nil {
			h.Logger.WithError(err).Error("send email")
		}
		response.Error[any](c, http.StatusInternalServerError, "internal error", nil)
	}
}
