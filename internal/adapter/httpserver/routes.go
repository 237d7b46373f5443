package httpserver

import (
	"log/slog"
	"net/http"

	wsupgrade "github.com/HimethW/RFID-forklift/internal/adapter/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// maxScanBody bounds ingest request bodies. A scan is a single short ID.
const maxScanBody = "16K"

// websocketPath serves every push-channel upgrade, whatever path the client
// dialed.
const websocketPath = "/ws"

func (s *Server) registerRoutes() {
	s.echo.Pre(upgradeRewrite)
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(s.httpMetrics.Middleware())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.CORS())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.echo.GET("/", s.handleRoot)
	s.echo.GET(websocketPath, s.handleWebSocket)

	s.registerHealthRoutes()
	s.registerScanRoutes()

	s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
}

// upgradeRewrite routes WebSocket upgrades to websocketPath before the router
// runs, so dashboards may connect on any path of the shared listener.
func upgradeRewrite(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Method == http.MethodGet && wsupgrade.IsUpgradeRequest(req) && req.URL.Path != websocketPath {
			req.URL.Path = websocketPath
			req.URL.RawPath = ""
		}
		return next(c)
	}
}

func (s *Server) registerScanRoutes() {
	ingest := []echo.MiddlewareFunc{
		middleware.BodyLimit(maxScanBody),
		newRateLimiter(s.config.ScanRateLimit, s.config.ScanRateBurst),
	}

	s.echo.POST("/api/esp/send-id", s.handleSendID, ingest...)
	s.echo.POST("/api/scans", s.handleSendID, ingest...)
	s.echo.GET("/api/scans", s.handleRecentScans)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
