package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sudooom.im.chat/internal/metrics"
)

// Metrics 记录 HTTP 请求数和耗时
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
		metrics.HTTPDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}
