package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	require.True(t, ok)
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetHistogram().GetSampleCount()
}

func TestPrometheusMiddleware_CountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusTeapot, "pong") })

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/ping", "418"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/ping", "418"))
	assert.Equal(t, before+1, after)
}

func TestPrometheusMiddleware_UnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}

func TestPrometheusMiddleware_ObservesDuration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.POST("/observe", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := histogramCount(t, RequestDuration.WithLabelValues(http.MethodPost, "/observe"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/observe", nil))
	assert.Equal(t, before+1, histogramCount(t, RequestDuration.WithLabelValues(http.MethodPost, "/observe")))
}

func TestCircuitBreakerStateGauge(t *testing.T) {
	g := CircuitBreakerState.WithLabelValues("gauge-test")
	g.Set(1)

	var out dto.Metric
	require.NoError(t, g.Write(&out))
	assert.Equal(t, float64(1), out.GetGauge().GetValue())
	require.Len(t, out.GetLabel(), 1)
	assert.Equal(t, "provider", out.GetLabel()[0].GetName())
	assert.Equal(t, "gauge-test", out.GetLabel()[0].GetValue())
}
