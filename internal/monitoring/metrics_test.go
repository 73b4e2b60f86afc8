package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(m *Monitor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/health", m.HealthHandler())
	router.GET("/ready", m.ReadinessHandler())
	router.GET("/live", m.LivenessHandler())
	router.GET("/metrics", m.MetricsHandler())
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware_CountsRequests(t *testing.T) {
	m := NewMonitor()
	router := newRouter(m)

	get(router, "/ok")
	get(router, "/ok")
	get(router, "/fail")

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.RequestCount)
	assert.Equal(t, int64(1), snap.ErrorCount)
	assert.Equal(t, int64(0), snap.ActiveRequests)
	assert.Equal(t, int64(2), snap.StatusCodes["OK"])
	assert.Equal(t, int64(2), snap.Endpoints["GET /ok"])

	snap.Endpoints["GET /ok"] = 100
	assert.Equal(t, int64(2), m.Snapshot().Endpoints["GET /ok"], "snapshot must be a copy")
}

func TestMetrics_AverageDurationInMilliseconds(t *testing.T) {
	m := NewMonitor()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(125 * time.Millisecond)
		return clock
	}
	router := newRouter(m)

	get(router, "/ok")
	assert.InDelta(t, 125.0, m.Snapshot().AvgRequestMillis, 0.001)

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Application struct {
			AvgRequestMillis float64 `json:"avg_request_duration_ms"`
		} `json:"application"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.InDelta(t, 125.0, body.Application.AvgRequestMillis, 0.001)
}

func TestHealth_AllHealthy(t *testing.T) {
	m := NewMonitor()
	m.RegisterHealthCheck("database", func(ctx context.Context) error { return nil })
	router := newRouter(m)

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string                 `json:"status"`
		Checks map[string]HealthCheck `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, StatusHealthy, body.Checks["database"].Status)

	assert.Equal(t, http.StatusOK, get(router, "/ready").Code)
}

func TestHealth_ChecksRunOnEveryRequest(t *testing.T) {
	m := NewMonitor()
	var down bool
	m.RegisterHealthCheck("redis", func(ctx context.Context) error {
		if down {
			return errors.New("connection refused")
		}
		return nil
	})
	router := newRouter(m)

	assert.Equal(t, http.StatusOK, get(router, "/health").Code)

	down = true
	w := get(router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(router, "/live").Code)
}

func TestMetricsHandler_IncludesGauges(t *testing.T) {
	m := NewMonitor()
	m.RegisterGauge("queue_notifications", func(ctx context.Context) (int64, error) { return 7, nil })
	m.RegisterGauge("queue_dead", func(ctx context.Context) (int64, error) { return 0, errors.New("down") })
	router := newRouter(m)

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Gauges map[string]int64 `json:"gauges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.Gauges["queue_notifications"])
	assert.Equal(t, int64(-1), body.Gauges["queue_dead"])
}
