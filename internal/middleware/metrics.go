package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, keeping
// arbitrary URLs out of the metric label set.
const unmatchedRoute = "unmatched"

// Metrics records latency and status per route pattern.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	if metrics == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}
