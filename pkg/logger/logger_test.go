package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/enrollease/enrollease-api/pkg/config"
)

func newObservedRouter() (*gin.Engine, *observer.ObservedLogs) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(GinMiddleware(zap.New(core)))
	return r, logs
}

func TestGinMiddlewareLevels(t *testing.T) {
	r, logs := newObservedRouter()
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/students/me", func(c *gin.Context) {
		c.Set(RoleKey, "student")
		c.Set(SubjectKey, "doc-1")
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	for _, path := range []string{"/health", "/students/me", "/boom", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "doc-1", entries[1].ContextMap()["subject"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
}

func TestGinMiddlewareStreams(t *testing.T) {
	r, logs := newObservedRouter()
	r.GET("/progress/stream", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/progress/stream", nil))

	entries := logs.FilterMessage("http_stream_closed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields, "stream_duration")
	assert.NotContains(t, fields, "latency")
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New(&config.Config{AppName: "EnrollEase", Log: config.LogConfig{Level: "loud", Format: "console"}})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
