package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/flowsync/internal/analysis"
	apperrors "github.com/pscheid92/flowsync/internal/platform/errors"
)

const (
	maxDiagramNodes = 500
	maxDiagramEdges = 2000
)

func (s *Server) handleAnalyze(c echo.Context) error {
	var diagram analysis.Diagram
	if err := c.Bind(&diagram); err != nil {
		return apperrors.ValidationError("request body must be a diagram with nodes and edges")
	}
	if diagram.Nodes == nil || diagram.Edges == nil {
		return apperrors.ValidationError("nodes and edges are required")
	}
	if len(diagram.Nodes) > maxDiagramNodes {
		return apperrors.ValidationError("too many nodes").WithContext("max_nodes", maxDiagramNodes)
	}
	if len(diagram.Edges) > maxDiagramEdges {
		return apperrors.ValidationError("too many edges").WithContext("max_edges", maxDiagramEdges)
	}

	report, err := s.analyzer.Analyze(c.Request().Context(), diagram)
	if err != nil {
		return apperrors.ExternalError("analysis failed", err)
	}

	if err := c.JSON(http.StatusOK, report); err != nil {
		return fmt.Errorf("failed to write analysis response: %w", err)
	}
	return nil
}
