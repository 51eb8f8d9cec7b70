package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/models"
)

// BranchHandler handles branch lifecycle and merge requests
type BranchHandler struct {
	branches *service.BranchService
	objects  *service.ObjectService
	merges   *service.MergeService
}

// NewBranchHandler creates a new branch handler
func NewBranchHandler(branches *service.BranchService, objects *service.ObjectService, merges *service.MergeService) *BranchHandler {
	return &BranchHandler{
		branches: branches,
		objects:  objects,
		merges:   merges,
	}
}

type createBranchRequest struct {
	Name           string     `json:"name"`
	ParentBranchID *uuid.UUID `json:"parent_branch_id,omitempty"`
}

// Create forks a new branch from its parent (default branch when omitted)
// POST /api/v1/graph/branches
func (h *BranchHandler) Create(c echo.Context) error {
	var req createBranchRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if req.Name == "" {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("name is required"))
	}

	branch, err := h.branches.Create(c.Request().Context(), req.Name, req.ParentBranchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, branch)
}

// List lists the project's branches
// GET /api/v1/graph/branches?include_inactive=true
func (h *BranchHandler) List(c echo.Context) error {
	includeInactive, _ := strconv.ParseBool(c.QueryParam("include_inactive"))

	branches, err := h.branches.List(c.Request().Context(), includeInactive)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"branches": branches})
}

// Get returns one branch
// GET /api/v1/graph/branches/:id
func (h *BranchHandler) Get(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	branch, err := h.branches.Get(c.Request().Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, branch)
}

// Lineage returns the branch's ancestor chain, nearest first
// GET /api/v1/graph/branches/:id/lineage
func (h *BranchHandler) Lineage(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	lineage, err := h.branches.Lineage(c.Request().Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"branch_id": id,
		"lineage":   lineage,
	})
}

// Archive deactivates a branch; its versions stay readable through lineage
// DELETE /api/v1/graph/branches/:id
func (h *BranchHandler) Archive(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	if err := h.branches.Archive(c.Request().Context(), id); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetObject resolves an object head through a branch's lineage
// GET /api/v1/graph/branches/:id/objects/:canonicalId
func (h *BranchHandler) GetObject(c echo.Context) error {
	branchID, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	includeDeleted, _ := strconv.ParseBool(c.QueryParam("include_deleted"))

	obj, err := h.objects.Get(c.Request().Context(), canonicalID, &branchID, includeDeleted)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, obj)
}

type mergeRequest struct {
	CanonicalID       uuid.UUID                       `json:"canonical_id"`
	SourceBranchID    uuid.UUID                       `json:"source_branch_id"`
	StrategyOverrides map[string]models.MergeStrategy `json:"strategy_overrides,omitempty"`
}

// Merge performs a three-way merge of one object from a source branch
// into the target branch
// POST /api/v1/graph/branches/:id/merge
func (h *BranchHandler) Merge(c echo.Context) error {
	targetBranchID, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}
	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if req.CanonicalID == uuid.Nil || req.SourceBranchID == uuid.Nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("canonical_id and source_branch_id are required"))
	}

	merged, err := h.merges.MergeObject(c.Request().Context(), service.MergeRequest{
		CanonicalID:       req.CanonicalID,
		TargetBranchID:    targetBranchID,
		SourceBranchID:    req.SourceBranchID,
		StrategyOverrides: req.StrategyOverrides,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, merged)
}
