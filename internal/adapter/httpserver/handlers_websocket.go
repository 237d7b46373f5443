package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

const welcomeMessage = "Welcome to the CRUD API"

// handleRoot serves the welcome text. Upgrades on "/" never reach it; they
// are rewritten to the push channel.
func (s *Server) handleRoot(c echo.Context) error {
	return c.String(http.StatusOK, welcomeMessage)
}

// handleWebSocket admits the client, upgrades the connection, registers it
// with the broadcaster and reads until the client goes away. Clients never
// send anything we act on; reading keeps control frames flowing and detects
// disconnects.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.connGuard.Acquire(ip); !ok {
		s.wsMetrics.ConnectionsRejected.WithLabelValues(reason).Inc()
		slog.WarnContext(c.Request().Context(), "WebSocket connection refused", "remote_ip", ip, "reason", reason)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
	}
	defer s.connGuard.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	if err := s.clients.Register(conn); err != nil {
		slog.WarnContext(c.Request().Context(), "WebSocket client rejected", "remote_ip", ip, "error", err)
		return nil
	}
	defer s.clients.Unregister(conn)

	slog.DebugContext(c.Request().Context(), "WebSocket client connected", "remote_ip", ip)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			slog.DebugContext(c.Request().Context(), "WebSocket client disconnected", "remote_ip", ip, "error", err)
			return nil
		}
	}
}
