package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records request count and duration per matched route.
// Unmatched paths share the "unmatched" label to keep cardinality bounded.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.observeRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
