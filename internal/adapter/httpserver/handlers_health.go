package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/HimethW/RFID-forklift/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResult struct {
	failedCheck string
	err         error
	clients     *int
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.writeHealth(c, s.runHealthChecks(ctx))
}

// handleLiveness answers from the handler goroutine alone; it must not wait
// on the broadcaster or any dependency.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness collapses concurrent probes into one round of checks so a
// burst of probes does not multiply database and Redis pings.
func (s *Server) handleReadiness(c echo.Context) error {
	v, _, _ := s.readiness.Do("ready", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), readinessProbeTimeout)
		defer cancel()
		res := s.runHealthChecks(ctx)
		if res.err == nil {
			n := s.clients.ClientCount()
			res.clients = &n
		}
		return res, nil
	})

	return s.writeHealth(c, v.(healthResult))
}

func (s *Server) runHealthChecks(ctx context.Context) healthResult {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			return healthResult{failedCheck: hc.Name, err: err}
		}
	}
	return healthResult{}
}

func (s *Server) writeHealth(c echo.Context, res healthResult) error {
	if res.err != nil {
		response := map[string]any{
			"status":       "unhealthy",
			"failed_check": res.failedCheck,
			"error":        res.err.Error(),
		}
		if err := c.JSON(http.StatusServiceUnavailable, response); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}

	response := map[string]any{"status": "ready"}
	if res.clients != nil {
		response["clients"] = *res.clients
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
