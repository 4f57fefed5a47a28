package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/gin-gonic/gin"
)

// scrapePath is excluded so that Prometheus polling does not dominate the
// request counters.
const scrapePath = "/metrics"

// Middleware records HTTP metrics for each request. Unmatched routes share
// one endpoint label, and SSE responses get a " (stream)" suffix: their
// latency covers a whole report fetch and would skew the JSON histograms.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == scrapePath {
			c.Next()
			return
		}

		start := time.Now()
		m.IncHTTPRequestsInFlight()
		defer m.DecHTTPRequestsInFlight()

		c.Next()

		code := c.Writer.Status()
		status := strconv.Itoa(code)
		endpoint := endpointLabel(c)

		m.RecordRequestLatency(endpoint, c.Request.Method, status, time.Since(start).Seconds())
		m.RecordHTTPRequest(endpoint, c.Request.Method, status)

		if code >= 500 {
			m.RecordError("server", endpoint, c.Request.Method)
		}
		if len(c.Errors) > 0 {
			logger.ErrorWithContext(c.Request.Context(), "request error",
				"endpoint", endpoint, "status", code, "error", c.Errors.String())
		}
	}
}

func endpointLabel(c *gin.Context) string {
	endpoint := c.FullPath()
	if endpoint == "" {
		return "unmatched"
	}
	if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
		endpoint += " (stream)"
	}
	return endpoint
}
