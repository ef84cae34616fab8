package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	handlers "github.com/oksasatya/emailme/internal/interface/http"
	"github.com/oksasatya/emailme/internal/interface/middleware"
)

type EmailModule struct {
	Handler       *handlers.EmailHandler
	Redis         *redis.Client
	Logger        *logrus.Logger
	PerMinute     int
	BypassPrivate bool
}

func NewEmailModule(h *handlers.EmailHandler, rdb *redis.Client, logger *logrus.Logger, perMinute int, bypassPrivate bool) *EmailModule {
	return &EmailModule{Handler: h, Redis: rdb, Logger: logger, PerMinute: perMinute, BypassPrivate: bypassPrivate}
}

func (m *EmailModule) Register(rg *gin.RouterGroup) {
	var allow middleware.AllowFunc
	if m.BypassPrivate {
		allow = middleware.AllowPrivateIP()
	}
	rl := middleware.RateLimit(m.Redis, m.Logger, m.PerMinute, time.Minute, middleware.KeyByIPAndPath(), allow)
	rg.POST("/email/send", rl, m.Handler.Send)
}
