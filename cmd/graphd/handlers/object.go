package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/apperror"
)

// ObjectHandler handles versioned object requests
type ObjectHandler struct {
	objects *service.ObjectService
}

// NewObjectHandler creates a new object handler
func NewObjectHandler(objects *service.ObjectService) *ObjectHandler {
	return &ObjectHandler{objects: objects}
}

type createObjectRequest struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	BranchID   *uuid.UUID     `json:"branch_id,omitempty"`
}

// Create creates a new object at version 1
// POST /api/v1/graph/objects
func (h *ObjectHandler) Create(c echo.Context) error {
	var req createObjectRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if req.Type == "" {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("type is required"))
	}

	obj, err := h.objects.Create(c.Request().Context(), req.Type, req.Properties, req.BranchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, obj)
}

// Get returns the head version of an object on a branch
// GET /api/v1/graph/objects/:canonicalId?branch_id=...&include_deleted=true
func (h *ObjectHandler) Get(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	branchID, err := queryUUID(c, "branch_id")
	if err != nil {
		return respondErr(c, err)
	}
	includeDeleted, _ := strconv.ParseBool(c.QueryParam("include_deleted"))

	obj, err := h.objects.Get(c.Request().Context(), canonicalID, branchID, includeDeleted)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, obj)
}

type createVersionRequest struct {
	Properties map[string]any `json:"properties"`
	BranchID   *uuid.UUID     `json:"branch_id,omitempty"`
}

// CreateVersion appends a full-replacement version to an object's chain
// POST /api/v1/graph/objects/:canonicalId/versions
func (h *ObjectHandler) CreateVersion(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	var req createVersionRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}

	obj, err := h.objects.CreateVersion(c.Request().Context(), canonicalID, req.Properties, req.BranchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, obj)
}

type patchObjectRequest struct {
	Patch    json.RawMessage `json:"patch"`
	BranchID *uuid.UUID      `json:"branch_id,omitempty"`
}

// Patch applies an RFC 7386 merge patch to the head properties and
// appends the result as a new version
// PATCH /api/v1/graph/objects/:canonicalId
func (h *ObjectHandler) Patch(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	var req patchObjectRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if len(req.Patch) == 0 {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("patch is required"))
	}

	obj, err := h.objects.Patch(c.Request().Context(), canonicalID, req.Patch, req.BranchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, obj)
}

// History returns the version chain visible from a branch, newest first
// GET /api/v1/graph/objects/:canonicalId/history?branch_id=...
func (h *ObjectHandler) History(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	branchID, err := queryUUID(c, "branch_id")
	if err != nil {
		return respondErr(c, err)
	}

	versions, err := h.objects.History(c.Request().Context(), canonicalID, branchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"canonical_id": canonicalID,
		"versions":     versions,
	})
}

// ListByType lists live heads of one object type
// GET /api/v1/graph/objects?type=...&branch_id=...&limit=...
func (h *ObjectHandler) ListByType(c echo.Context) error {
	objectType := c.QueryParam("type")
	if objectType == "" {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("type query parameter is required"))
	}
	branchID, err := queryUUID(c, "branch_id")
	if err != nil {
		return respondErr(c, err)
	}
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return respondErr(c, apperror.ErrBadRequest.WithMessage("limit must be a positive integer"))
		}
	}

	objects, err := h.objects.ListByType(c.Request().Context(), objectType, branchID, limit)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"type":    objectType,
		"objects": objects,
	})
}

// Delete soft-deletes an object on a branch; ancestor branches keep
// their versions
// DELETE /api/v1/graph/objects/:canonicalId?branch_id=...
func (h *ObjectHandler) Delete(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	branchID, err := queryUUID(c, "branch_id")
	if err != nil {
		return respondErr(c, err)
	}

	if err := h.objects.SoftDelete(c.Request().Context(), canonicalID, branchID); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type restoreObjectRequest struct {
	Version  int        `json:"version"`
	BranchID *uuid.UUID `json:"branch_id,omitempty"`
}

// Restore copies a historical version's properties into a new head
// POST /api/v1/graph/objects/:canonicalId/restore
func (h *ObjectHandler) Restore(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}
	var req restoreObjectRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if req.Version < 1 {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("version must be a positive integer"))
	}

	obj, err := h.objects.Restore(c.Request().Context(), canonicalID, req.Version, req.BranchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, obj)
}
