package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/apperror"
)

// GraphHandler handles graph traversal requests
type GraphHandler struct {
	traversal *service.TraversalService
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(traversal *service.TraversalService) *GraphHandler {
	return &GraphHandler{traversal: traversal}
}

// Expand runs a bounded breadth-first expansion from root objects
// POST /api/v1/graph/expand
func (h *GraphHandler) Expand(c echo.Context) error {
	var req service.ExpandRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}

	result, err := h.traversal.Expand(c.Request().Context(), req)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
