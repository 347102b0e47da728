package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/flowsync/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

func rateLimitedCall(t *testing.T, srv *Server, handler echo.HandlerFunc, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	require.NoError(t, callHandler(srv, handler, c))
	return rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimiterAllowsRequestsUnderLimit(t *testing.T) {
	srv := newTestServer(t)
	handler := newRateLimiter(10, 3)(okHandler)

	for range 3 {
		rec := rateLimitedCall(t, srv, handler, testRemoteAddr)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterBlocksExcessiveRequests(t *testing.T) {
	srv := newTestServer(t)
	handler := newRateLimiter(0.5, 1)(okHandler)

	rec := rateLimitedCall(t, srv, handler, testRemoteAddr)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = rateLimitedCall(t, srv, handler, testRemoteAddr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate limit exceeded", resp.Error)
	assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
	assert.Equal(t, "1.2.3.4", resp.Context["client_ip"])
}

func TestRateLimiterDifferentIPsAreIndependent(t *testing.T) {
	srv := newTestServer(t)
	handler := newRateLimiter(0.01, 1)(okHandler)

	assert.Equal(t, http.StatusOK, rateLimitedCall(t, srv, handler, testRemoteAddr).Code)
	assert.Equal(t, http.StatusOK, rateLimitedCall(t, srv, handler, "5.6.7.8:5678").Code)
	assert.Equal(t, http.StatusTooManyRequests, rateLimitedCall(t, srv, handler, testRemoteAddr).Code)
}
