package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medpipe/cxrscan/metrics"
)

// RecordRequests returns a middleware that observes request latency into the
// named histogram, labeled by route path and status code. The registered
// route pattern is used rather than the raw URL so path parameters do not
// explode label cardinality.
func RecordRequests(m metrics.Metrics, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordWithLabels(name, time.Since(start).Seconds(),
			path, strconv.Itoa(c.Writer.Status()))
	}
}
