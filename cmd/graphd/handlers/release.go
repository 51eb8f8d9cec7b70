package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/apperror"
)

// ReleaseHandler handles frozen release snapshots and their tags
type ReleaseHandler struct {
	releases *service.ReleaseService
}

// NewReleaseHandler creates a new release handler
func NewReleaseHandler(releases *service.ReleaseService) *ReleaseHandler {
	return &ReleaseHandler{releases: releases}
}

type freezeRequest struct {
	Name     string     `json:"name"`
	BranchID *uuid.UUID `json:"branch_id,omitempty"`
}

// Freeze captures the branch's current heads into an immutable snapshot
// POST /api/v1/graph/releases
func (h *ReleaseHandler) Freeze(c echo.Context) error {
	var req freezeRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}

	result, err := h.releases.Freeze(c.Request().Context(), req.Name, req.BranchID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"release":      result.ProductVersion,
		"member_count": result.MemberCount,
	})
}

// List lists the project's snapshots, newest first
// GET /api/v1/graph/releases
func (h *ReleaseHandler) List(c echo.Context) error {
	releases, err := h.releases.List(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"releases": releases})
}

// Get returns one snapshot
// GET /api/v1/graph/releases/:id
func (h *ReleaseHandler) Get(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	release, err := h.releases.Get(c.Request().Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, release)
}

// Members lists the object versions pinned by a snapshot
// GET /api/v1/graph/releases/:id/members
func (h *ReleaseHandler) Members(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	members, err := h.releases.Members(c.Request().Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"release_id": id,
		"members":    members,
	})
}

// Diff classifies canonical IDs between two snapshots
// GET /api/v1/graph/releases/:id/diff/:otherId
func (h *ReleaseHandler) Diff(c echo.Context) error {
	fromID, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}
	toID, err := pathUUID(c, "otherId")
	if err != nil {
		return respondErr(c, err)
	}

	entries, err := h.releases.Diff(c.Request().Context(), fromID, toID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"from":    fromID,
		"to":      toID,
		"entries": entries,
	})
}

type tagRequest struct {
	ProductVersionID uuid.UUID `json:"product_version_id"`
}

// Tag points a movable name at a snapshot, creating or updating it
// PUT /api/v1/graph/tags/:name
func (h *ReleaseHandler) Tag(c echo.Context) error {
	name := c.Param("name")
	var req tagRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if req.ProductVersionID == uuid.Nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("product_version_id is required"))
	}

	tag, err := h.releases.TagRelease(c.Request().Context(), name, req.ProductVersionID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, tag)
}

// GetTag resolves a tag name
// GET /api/v1/graph/tags/:name
func (h *ReleaseHandler) GetTag(c echo.Context) error {
	tag, err := h.releases.GetTag(c.Request().Context(), c.Param("name"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, tag)
}

// ListTags lists the project's tags
// GET /api/v1/graph/tags
func (h *ReleaseHandler) ListTags(c echo.Context) error {
	tags, err := h.releases.ListTags(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tags": tags})
}

// DeleteTag removes a tag; the snapshot it pointed at is untouched
// DELETE /api/v1/graph/tags/:name
func (h *ReleaseHandler) DeleteTag(c echo.Context) error {
	if err := h.releases.DeleteTag(c.Request().Context(), c.Param("name")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
