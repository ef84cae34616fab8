package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func TestSuccessWritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	resp := Success[map[string]string](c, http.StatusAccepted, map[string]string{"recipient": "a@example.com"}, "queued", nil)
	assert.True(t, resp.Success)

	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "queued", body["message"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"recipient": "a@example.com"}, body["data"])
}

func TestErrorDefaultsToBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error[any](c, 0, "invalid payload", map[string]string{"recipient": "must be a valid email address"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(http.StatusBadRequest), body["status"])
	assert.NotContains(t, body, "data")
}
