package helpers

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("emailme", "development", "").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("emailme", "production", "").GetLevel())
	assert.Equal(t, logrus.WarnLevel, NewLogger("emailme", "production", "warn").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("emailme", "production", "loud").GetLevel())

	_, ok := NewLogger("emailme", "production", "").Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	LogError(logger, "publish failed", errors.New("boom"), nil)
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Contains(t, buf.String(), `"msg":"publish failed"`)
}

func TestRedisClientOptional(t *testing.T) {
	assert.Nil(t, NewRedisClient("", "", 0))

	rdb := NewRedisClient("127.0.0.1:1", "", 0)
	require.NotNil(t, rdb)
	defer rdb.Close()
	assert.Error(t, PingRedis(context.Background(), rdb, 200*time.Millisecond))
}
