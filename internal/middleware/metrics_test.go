package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/enrollease/enrollease-api/internal/service"
)

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/files/:token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/stream", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/files/abc", "/files/def", "/nowhere", "/stream"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	assert.Contains(t, body, `path="/files/:token"`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.NotContains(t, body, "abc")
	assert.Contains(t, body, `path="/stream"`)

	assert.EqualValues(t, 3, metrics.Snapshot().RequestsTotal)
}
