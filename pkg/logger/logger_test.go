package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/revision-engine/pkg/config"
	"github.com/noah-isme/revision-engine/pkg/middleware/requestid"
)

func TestNewHonoursLevel(t *testing.T) {
	l, err := New(&config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "warn", Format: "json"}})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}

func TestGinMiddlewareLogsRouteAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core)

	var scoped string
	r := gin.New()
	r.Use(requestid.Middleware(), GinMiddleware(l))
	r.GET("/revisions/:type/:id", func(c *gin.Context) {
		scoped = requestid.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/revisions/page/1", nil)
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, "req-1", scoped)
	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/revisions/:type/:id", fields["route"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestForAddsRequestIDWhenPresent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core)

	For(context.Background(), l).Info("plain")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestid.Middleware())
	r.GET("/", func(c *gin.Context) {
		For(c.Request.Context(), l).Info("scoped")
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "request_id")
	assert.Equal(t, "abc", entries[1].ContextMap()["request_id"])
}
