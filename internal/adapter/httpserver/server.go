package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/analysis"
	"github.com/pscheid92/flowsync/internal/domain"
	"github.com/pscheid92/flowsync/internal/platform/config"
)

const serviceName = "FlowSync API"

type connectionGateway interface {
	ServeConn(w http.ResponseWriter, r *http.Request, id domain.ClientID) error
}

type clientCounter interface {
	Count() int
}

type busStatus interface {
	Configured() bool
	Subscribed() bool
	Status(ctx context.Context) string
}

type diagramAnalyzer interface {
	Configured() bool
	Analyze(ctx context.Context, d analysis.Diagram) (analysis.Report, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	gateway  connectionGateway
	clients  clientCounter
	bus      busStatus
	analyzer diagramAnalyzer

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, clock clockwork.Clock, gateway connectionGateway, clients clientCounter, bus busStatus, analyzer diagramAnalyzer, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		clock:        clock,
		gateway:      gateway,
		clients:      clients,
		bus:          bus,
		analyzer:     analyzer,
		registry:     registry,
		httpMetrics:  httpMetrics,
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
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

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
