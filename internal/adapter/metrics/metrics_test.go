package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_AllMetricSetsRegister(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewHTTPMetrics(reg)
		NewWebSocketMetrics(reg)
		NewScanMetrics(reg)
		NewDatabaseMetrics(reg)
		NewRelayMetrics(reg)
	})
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewScanMetrics(reg)
	m.IngestedTotal.WithLabelValues(OutcomeSaved).Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rfid_scans_ingested_total{outcome="saved"} 1`)
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.POST("/api/esp/send-id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/esp/send-id", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, "/api/esp/send-id", "200")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/health/live", "200")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlightGauge), 0)
}

func TestHTTPMetrics_MiddlewareSkipsWebSocketUpgrades(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	var inFlightDuringHandler float64
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ws", func(c echo.Context) error {
		inFlightDuringHandler = testutil.ToFloat64(m.InFlightGauge)
		return c.NoContent(http.StatusSwitchingProtocols)
	})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	e.ServeHTTP(httptest.NewRecorder(), req)

	assert.InDelta(t, 0, inFlightDuringHandler, 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.RequestsTotal))
}

func TestHTTPMetrics_MiddlewareCountsPlainRequestsInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	var inFlightDuringHandler float64
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/", func(c echo.Context) error {
		inFlightDuringHandler = testutil.ToFloat64(m.InFlightGauge)
		return c.String(http.StatusOK, "welcome")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.InDelta(t, 1, inFlightDuringHandler, 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlightGauge), 0)
}
