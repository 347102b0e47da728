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

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/flowsync/internal/adapter/httpserver"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/adapter/redis"
	"github.com/pscheid92/flowsync/internal/adapter/websocket"
	"github.com/pscheid92/flowsync/internal/analysis"
	"github.com/pscheid92/flowsync/internal/domain"
	"github.com/pscheid92/flowsync/internal/hub"
	"github.com/pscheid92/flowsync/internal/platform/config"
	"github.com/pscheid92/flowsync/internal/platform/logging"
	"github.com/pscheid92/flowsync/internal/platform/version"
	"github.com/pscheid92/flowsync/internal/relay"
)

const startupPingTimeout = 3 * time.Second

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, rl *relay.Relay, stopListener context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Connections are closed by the relay; the HTTP server only has
		// plain requests left to drain afterwards.
		if err := rl.Shutdown(shutdownCtx); err != nil {
			slog.Error("Relay shutdown error", "error", err)
		}
		stopListener()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupBus returns a nil bus when Redis is not configured, putting the relay
// into local-only mode. An unreachable Redis is not fatal.
func setupBus(cfg *config.Config, registry prometheus.Registerer) domain.Bus {
	if !cfg.RedisConfigured() {
		slog.Warn("REDIS_URL not set, cross-instance broadcast disabled")
		return nil
	}

	client, err := redis.NewClient(cfg.RedisURL, metrics.NewRedisMetrics(registry))
	if err != nil {
		slog.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable, starting in degraded mode", "error", err)
	} else {
		slog.Info("Connected to Redis")
	}

	return redis.NewBus(client)
}

func setupAnalyzer(cfg *config.Config, clock clockwork.Clock, registry prometheus.Registerer) *analysis.Analyzer {
	var generator analysis.Generator
	if cfg.AnalysisConfigured() {
		generator = analysis.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GoogleAPIKey, clock)
		slog.Info("Diagram analysis configured", "model", cfg.GeminiModel)
	} else {
		slog.Warn("GOOGLE_API_KEY not set, diagram analysis returns the fallback report")
	}
	return analysis.NewAnalyzer(generator, clock, metrics.NewAnalysisMetrics(registry))
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	build := version.Get()
	slog.Info("Application starting", append([]any{"env", cfg.AppEnv, "port", cfg.Port}, build.LogAttrs()...)...)

	registry := metrics.NewRegistry()
	metrics.RegisterBuildInfo(registry, build.Version, build.Commit)

	h := hub.New(domain.DefaultPalette(), clock, metrics.NewHubMetrics(registry))
	rl := relay.New(h, setupBus(cfg, registry), clock, metrics.NewBusMetrics(registry))

	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	rl.Start(listenerCtx)

	gateway := websocket.NewGateway(h, rl, clock,
		metrics.NewWebSocketMetrics(registry),
		websocket.NewCheckOrigin(cfg.AllowedOrigins, cfg.IsDevelopment()),
	)

	healthChecks := []httpserver.HealthCheck{httpserver.HubCheck(h)}
	srv := httpserver.NewServer(cfg, clock, gateway, h, rl,
		setupAnalyzer(cfg, clock, registry),
		registry, metrics.NewHTTPMetrics(registry), healthChecks,
	)

	done := runGracefulShutdown(cfg, srv, rl, stopListener)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
