package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/HimethW/RFID-forklift/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// clientRegistry is the part of the broadcaster the connection acceptor needs.
type clientRegistry interface {
	Register(conn *websocket.Conn) error
	Unregister(conn *websocket.Conn)
	ClientCount() int
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	scans     domain.ScanService
	clients   clientRegistry
	upgrader  *websocket.Upgrader
	connGuard *connectionGuard
	wsMetrics *metrics.WebSocketMetrics

	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics

	healthChecks []HealthCheck
	readiness    singleflight.Group
	startTime    time.Time
}

func NewServer(cfg *config.Config, scans domain.ScanService, clients clientRegistry, upgrader *websocket.Upgrader, reg *prometheus.Registry, wsMetrics *metrics.WebSocketMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(cfg.TrustProxy)

	srv := &Server{
		echo:           e,
		config:         cfg,
		scans:          scans,
		clients:        clients,
		upgrader:       upgrader,
		connGuard:      newConnectionGuard(clockwork.NewRealClock(), cfg.MaxConnectionsPerIP, cfg.WSConnectRate, cfg.WSConnectBurst),
		wsMetrics:      wsMetrics,
		metricsHandler: metrics.Handler(reg),
		httpMetrics:    metrics.NewHTTPMetrics(reg),
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// ipExtractor decides which address the per-IP guards key on. Forwarding
// headers are honoured only from private or loopback peers, and only when
// TRUST_PROXY is set.
func ipExtractor(trustProxy bool) echo.IPExtractor {
	if trustProxy {
		return echo.ExtractIPFromXFFHeader()
	}
	return echo.ExtractIPDirect()
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
