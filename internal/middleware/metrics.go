package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records one observation per request, labelled by route template so signed file tokens
// and document ids do not become label values. Progress streams are counted but not timed.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
			metricsSvc.ObserveHTTPStream(c.Request.Method, route, status)
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, status, time.Since(start))
	}
}
