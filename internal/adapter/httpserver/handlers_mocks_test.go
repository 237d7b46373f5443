package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	wsupgrade "github.com/HimethW/RFID-forklift/internal/adapter/websocket"
	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/HimethW/RFID-forklift/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// --- Mock implementations ---

type mockScanService struct {
	ingestFn func(ctx context.Context, rawTagID string) (domain.Scan, error)
	recentFn func(ctx context.Context, limit int) ([]domain.Scan, error)

	mu          sync.Mutex
	ingestCalls []string
	recentCalls []int
}

func (m *mockScanService) Ingest(ctx context.Context, rawTagID string) (domain.Scan, error) {
	m.mu.Lock()
	m.ingestCalls = append(m.ingestCalls, rawTagID)
	m.mu.Unlock()

	if m.ingestFn != nil {
		return m.ingestFn(ctx, rawTagID)
	}
	return domain.Scan{TagID: rawTagID, Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func (m *mockScanService) Recent(ctx context.Context, limit int) ([]domain.Scan, error) {
	m.mu.Lock()
	m.recentCalls = append(m.recentCalls, limit)
	m.mu.Unlock()

	if m.recentFn != nil {
		return m.recentFn(ctx, limit)
	}
	return nil, nil
}

type mockClientRegistry struct {
	count      int
	countCalls atomic.Int32
}

func (m *mockClientRegistry) Register(*websocket.Conn) error { return nil }

func (m *mockClientRegistry) Unregister(*websocket.Conn) {}

func (m *mockClientRegistry) ClientCount() int {
	m.countCalls.Add(1)
	return m.count
}

// memoryStore is a ScanRecorder and ScanHistory kept in memory. Setting fail
// makes every Record call return it.
type memoryStore struct {
	mu    sync.Mutex
	fail  error
	scans []domain.Scan
	calls int
}

func (s *memoryStore) Record(_ context.Context, tagID string) (domain.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail != nil {
		return domain.Scan{}, s.fail
	}
	scan := domain.Scan{TagID: tagID, Timestamp: time.Now().UTC()}
	s.scans = append(s.scans, scan)
	return scan, nil
}

func (s *memoryStore) Recent(_ context.Context, limit int) ([]domain.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Scan, 0, limit)
	for i := len(s.scans) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.scans[i])
	}
	return out, nil
}

func (s *memoryStore) recordCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errDatabaseDown = errors.New("connection refused")

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "development",
		Port:                "0",
		ScanRateLimit:       1000,
		ScanRateBurst:       1000,
		MaxConnectionsPerIP: 100,
		WSConnectRate:       1000,
		WSConnectBurst:      1000,
	}
}

func allowAllOrigins(*http.Request) bool { return true }

func newTestServer(t *testing.T, scans domain.ScanService, opts ...func(*Server)) *Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	srv := &Server{
		echo:           echo.New(),
		config:         testConfig(),
		scans:          scans,
		clients:        &mockClientRegistry{},
		upgrader:       wsupgrade.NewUpgrader(allowAllOrigins),
		connGuard:      newConnectionGuard(clockwork.NewFakeClock(), 100, 1000, 1000),
		wsMetrics:      metrics.NewWebSocketMetrics(reg),
		metricsHandler: metrics.Handler(reg),
		httpMetrics:    metrics.NewHTTPMetrics(reg),
		startTime:      time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}
	srv.echo.IPExtractor = ipExtractor(srv.config.TrustProxy)

	// Register routes so endpoints are available for testing
	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withRateLimit(ratePerSecond float64, burst int) func(*Server) {
	return func(s *Server) {
		s.config.ScanRateLimit = ratePerSecond
		s.config.ScanRateBurst = burst
	}
}

func withTrustProxy() func(*Server) {
	return func(s *Server) {
		s.config.TrustProxy = true
	}
}

func withConnectionGuard(g *connectionGuard) func(*Server) {
	return func(s *Server) {
		s.connGuard = g
	}
}

func withClients(clients clientRegistry) func(*Server) {
	return func(s *Server) {
		s.clients = clients
	}
}

// serve runs a request through the full middleware chain.
func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}
