package modules

import (
	"expvar"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/emailme/internal/interface/middleware"
)

type DebugModule struct {
	Redis  *redis.Client
	Logger *logrus.Logger
}

func NewDebugModule(rdb *redis.Client, logger *logrus.Logger) *DebugModule {
	return &DebugModule{Redis: rdb, Logger: logger}
}

// Register exposes expvar counters (emails_enqueued, emails_enqueue_failed),
// rate-limited per IP.
func (m *DebugModule) Register(rg *gin.RouterGroup) {
	rl := middleware.RateLimit(m.Redis, m.Logger, 120, time.Minute, middleware.KeyByIPAndPath(), nil)
	rg.GET("/debug/vars", rl, gin.WrapH(expvar.Handler()))
}
