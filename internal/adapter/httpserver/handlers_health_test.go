package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowsync/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		busStatus  string
		wantStatus string
	}{
		{"connected", relay.StatusConnected, "healthy"},
		{"disconnected", relay.StatusDisconnected, "degraded"},
		{"not configured", relay.StatusNotConfigured, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t,
				withBus(&mockBus{status: tt.busStatus}),
				withClients(&mockClients{count: 3}),
			)
			c, rec := newContext(srv, http.MethodGet, "/health")

			err := srv.handleHealth(c)

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"status":"`+tt.wantStatus+`","redis":"`+tt.busStatus+`","websocket_clients":3}`, rec.Body.String())
		})
	}
}

func TestHandleLiveness(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	srv := newTestServer(t, func(s *Server) { s.clock = clock })
	clock.Advance(90 * time.Second)
	c, rec := newContext(srv, http.MethodGet, "/health/live")

	err := srv.handleLiveness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":90}`, rec.Body.String())
}

func TestHandleReadiness_AllHealthy(t *testing.T) {
	srv := newTestServer(t,
		withHealthChecks(
			HealthCheck{Name: "hub", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthOK},
		),
	)
	c, rec := newContext(srv, http.MethodGet, "/health/ready")

	err := srv.handleReadiness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleReadiness_RedisDown(t *testing.T) {
	srv := newTestServer(t,
		withHealthChecks(
			HealthCheck{Name: "hub", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthErr("connection refused")},
		),
	)
	c, rec := newContext(srv, http.MethodGet, "/health/ready")

	err := srv.handleReadiness(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"failed_check":"redis"`)
	assert.Contains(t, rec.Body.String(), `"error":"connection refused"`)
}

func TestHubCheck(t *testing.T) {
	assert.NoError(t, HubCheck(&mockClients{count: 0}).Check(context.Background()))
	assert.ErrorIs(t, HubCheck(&mockClients{count: -1}).Check(context.Background()), ErrClientRegistryUnresponsive)
	assert.Equal(t, "hub", HubCheck(&mockClients{}).Name)
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t)
	c, rec := newContext(srv, http.MethodGet, "/version")

	err := srv.handleVersion(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"build_time"`)
	assert.Contains(t, body, `"go_version"`)
}
