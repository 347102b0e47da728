package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/analysis"
	"github.com/pscheid92/flowsync/internal/domain"
	"github.com/pscheid92/flowsync/internal/platform/config"
	apperrors "github.com/pscheid92/flowsync/internal/platform/errors"
	"github.com/pscheid92/flowsync/internal/relay"
)

// --- Mock implementations ---

type mockGateway struct {
	serveFn func(w http.ResponseWriter, r *http.Request, id domain.ClientID) error
	lastID  domain.ClientID
}

func (m *mockGateway) ServeConn(w http.ResponseWriter, r *http.Request, id domain.ClientID) error {
	m.lastID = id
	if m.serveFn != nil {
		return m.serveFn(w, r, id)
	}
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

type mockClients struct {
	count int
}

func (m *mockClients) Count() int { return m.count }

type mockBus struct {
	configured bool
	subscribed bool
	status     string
}

func (m *mockBus) Configured() bool { return m.configured }
func (m *mockBus) Subscribed() bool { return m.subscribed }

func (m *mockBus) Status(context.Context) string {
	if m.status == "" {
		return relay.StatusNotConfigured
	}
	return m.status
}

type mockAnalyzer struct {
	configured bool
	analyzeFn  func(ctx context.Context, d analysis.Diagram) (analysis.Report, error)
	calls      int
}

func (m *mockAnalyzer) Configured() bool { return m.configured }

func (m *mockAnalyzer) Analyze(ctx context.Context, d analysis.Diagram) (analysis.Report, error) {
	m.calls++
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, d)
	}
	return analysis.Report{Analysis: "report", Timestamp: "2024-06-01T12:00:00Z"}, nil
}

// --- Test helpers ---

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:           "development",
		Port:             "8000",
		AllowedOrigins:   []string{"*"},
		AnalyzeRateLimit: 100,
		AnalyzeRateBurst: 100,
	}
}

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	srv := &Server{
		echo:        echo.New(),
		config:      testConfig(),
		clock:       clockwork.NewFakeClockAt(testStart),
		gateway:     &mockGateway{},
		clients:     &mockClients{},
		bus:         &mockBus{},
		analyzer:    &mockAnalyzer{},
		registry:    reg,
		httpMetrics: metrics.NewHTTPMetrics(reg),
		startTime:   testStart,
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()
	return srv
}

func withConfig(fn func(*config.Config)) func(*Server) {
	return func(s *Server) {
		fn(s.config)
	}
}

func withGateway(g connectionGateway) func(*Server) {
	return func(s *Server) {
		s.gateway = g
	}
}

func withClients(c clientCounter) func(*Server) {
	return func(s *Server) {
		s.clients = c
	}
}

func withBus(b busStatus) func(*Server) {
	return func(s *Server) {
		s.bus = b
	}
}

func withAnalyzer(a diagramAnalyzer) func(*Server) {
	return func(s *Server) {
		s.analyzer = a
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(srv *Server, handler echo.HandlerFunc, c echo.Context) error {
	return apperrors.Middleware(srv.httpMetrics.ErrorsTotal)(handler)(c)
}

func newContext(srv *Server, method, target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return srv.echo.NewContext(req, rec), rec
}
