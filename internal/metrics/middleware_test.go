package metrics

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsMetricsAndErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := NewMetrics("testmw")
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.WithOutput(&buf), logging.WithLevel(logging.LevelDebug))

	r := gin.New()
	r.Use(Middleware(m, logger))
	r.GET("/api/v1/connection", func(c *gin.Context) { c.Status(200) })
	r.POST("/api/v1/assessments", func(c *gin.Context) {
		if c.Query("stream") != "" {
			c.Header("Content-Type", "text/event-stream")
			c.SSEvent("result", "{}")
			return
		}
		_ = c.Error(errors.New("proxy unreachable"))
		c.Status(500)
	})
	r.GET("/metrics", func(c *gin.Context) { c.Status(200) })

	for _, req := range []struct{ method, path string }{
		{"GET", "/api/v1/connection"},
		{"POST", "/api/v1/assessments"},
		{"POST", "/api/v1/assessments?stream=1"},
		{"GET", "/missing"},
		{"GET", "/metrics"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(req.method, req.path, nil))
	}

	assert.Contains(t, buf.String(), "request error")
	assert.Contains(t, buf.String(), "proxy unreachable")

	families, err := m.registry.Gather()
	require.NoError(t, err)

	assert.True(t, metricHasLabel(families, "testmw_http_requests_total", "endpoint", "/api/v1/connection"))
	assert.True(t, metricHasLabel(families, "testmw_http_requests_total", "endpoint", "/api/v1/assessments (stream)"))
	assert.True(t, metricHasLabel(families, "testmw_http_requests_total", "endpoint", "unmatched"))
	assert.True(t, metricHasLabel(families, "testmw_errors_total", "endpoint", "/api/v1/assessments"))
	assert.False(t, metricHasLabel(families, "testmw_http_requests_total", "endpoint", "/metrics"), "scrapes are not counted")
}

func metricHasLabel(families []*dto.MetricFamily, name, key, value string) bool {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.Metric {
			for _, label := range metric.Label {
				if label.GetName() == key && label.GetValue() == value {
					return true
				}
			}
		}
	}
	return false
}
