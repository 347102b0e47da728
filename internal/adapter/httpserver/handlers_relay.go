package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowsync/internal/domain"
	apperrors "github.com/pscheid92/flowsync/internal/platform/errors"
)

func (s *Server) handleRoot(c echo.Context) error {
	response := map[string]any{
		"service":             serviceName,
		"status":              "running",
		"connected_clients":   s.clients.Count(),
		"redis_connected":     s.bus.Configured() && s.bus.Subscribed(),
		"analysis_configured": s.analyzer.Configured(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

// clientIDParam returns the decoded client id. Echo routes on the raw path
// only when it differs from the decoded one, and params are decoded only then.
func clientIDParam(c echo.Context) (string, error) {
	id := c.Param("client_id")
	if c.Request().URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	id, err := clientIDParam(c)
	if err != nil {
		return apperrors.ValidationError("invalid client id")
	}

	if err := s.gateway.ServeConn(c.Response(), c.Request(), domain.ClientID(id)); err != nil {
		if errors.Is(err, domain.ErrEmptyClientID) {
			return apperrors.ValidationError("client id is required")
		}
		return apperrors.InternalError("failed to serve connection", err)
	}
	return nil
}
