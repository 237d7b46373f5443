package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/httpserver"
	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/HimethW/RFID-forklift/internal/adapter/postgres"
	"github.com/HimethW/RFID-forklift/internal/adapter/redis"
	"github.com/HimethW/RFID-forklift/internal/adapter/websocket"
	"github.com/HimethW/RFID-forklift/internal/app"
	"github.com/HimethW/RFID-forklift/internal/broadcast"
	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/HimethW/RFID-forklift/internal/platform/config"
	"github.com/HimethW/RFID-forklift/internal/platform/logging"
	"github.com/HimethW/RFID-forklift/internal/platform/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

type relayResult struct {
	client *goredis.Client
	relay  *redis.ScanRelay
	stop   context.CancelFunc
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.DatabaseMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// setupRelay connects to Redis and starts the cross-instance relay. It returns
// nil when REDIS_URL is unset and the process runs standalone.
func setupRelay(cfg *config.Config, local domain.ScanBroadcaster, reg prometheus.Registerer) *relayResult {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, scan relay disabled")
		return nil
	}

	m := metrics.NewRelayMetrics(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	relay := redis.NewScanRelay(client, local, m)
	relayCtx, stop := context.WithCancel(context.Background())
	go relay.Start(relayCtx)

	return &relayResult{client: client, relay: relay, stop: stop}
}

func healthChecks(pool *pgxpool.Pool, relay *relayResult) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}
	if relay != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return relay.client.Ping(ctx).Err() },
		}, httpserver.HealthCheck{
			Name:  "relay",
			Check: relay.relay.CheckSubscribed,
		})
	}
	return checks
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, broadcaster *broadcast.Broadcaster, relay *relayResult) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if relay != nil {
			relay.stop()
		}
		broadcaster.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	reg := metrics.NewRegistry()

	dbMetrics := metrics.NewDatabaseMetrics(reg)
	pool := setupDB(cfg, dbMetrics)
	defer pool.Close()

	wsMetrics := metrics.NewWebSocketMetrics(reg)
	broadcaster := broadcast.NewBroadcaster(clock, cfg.MaxWebSocketConnections, wsMetrics)

	relay := setupRelay(cfg, broadcaster, reg)
	if relay != nil {
		defer func() { _ = relay.client.Close() }()
	}

	scans := postgres.NewScanRepo(pool, cfg.DBWriteTimeout, dbMetrics)

	// Pass nil explicitly when standalone to avoid a typed-nil interface.
	var scanRelay domain.ScanRelay
	if relay != nil {
		scanRelay = relay.relay
	}
	scanSvc := app.NewScanService(scans, scans, broadcaster, scanRelay, metrics.NewScanMetrics(reg))

	checkOrigin := websocket.NewCheckOrigin(cfg.AppURL, cfg.Origins(), !cfg.IsProduction())
	srv := httpserver.NewServer(cfg, scanSvc, broadcaster, websocket.NewUpgrader(checkOrigin), reg, wsMetrics, healthChecks(pool, relay))

	done := runGracefulShutdown(cfg, srv, broadcaster, relay)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
