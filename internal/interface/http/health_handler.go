package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/emailme/pkg/messaging"
	"github.com/oksasatya/emailme/pkg/response"
)

// StateReporter exposes the broker dispatcher's lifecycle state.
type StateReporter interface {
	State() messaging.State
}

type HealthHandler struct {
	Dispatcher StateReporter
}

func NewHealthHandler(d StateReporter) *HealthHandler {
	return &HealthHandler{Dispatcher: d}
}

// Health is a liveness probe. The broker connection is opened lazily, so a
// CONFIGURED dispatcher is healthy; only a STOPPED one is not.
func (h *HealthHandler) Health(c *gin.Context) {
	state := messaging.StateConfigured
	if h.Dispatcher != nil {
		state = h.Dispatcher.State()
	}
	data := map[string]any{"dispatcher": state.String()}
	if state == messaging.StateStopped {
		response.Error[any](c, http.StatusServiceUnavailable, "dispatcher stopped", data)
		return
	}
	response.Success[any](c, http.StatusOK, data, "ok", nil)
}
