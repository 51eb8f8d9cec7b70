package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/apperror"
)

// RelationshipHandler handles relationship (edge) requests
type RelationshipHandler struct {
	relationships *service.RelationshipService
}

// NewRelationshipHandler creates a new relationship handler
func NewRelationshipHandler(relationships *service.RelationshipService) *RelationshipHandler {
	return &RelationshipHandler{relationships: relationships}
}

type createRelationshipRequest struct {
	Type        string         `json:"type"`
	SrcObjectID uuid.UUID      `json:"src_object_id"`
	DstObjectID uuid.UUID      `json:"dst_object_id"`
	Properties  map[string]any `json:"properties,omitempty"`
	ValidFrom   *time.Time     `json:"valid_from,omitempty"`
	ValidTo     *time.Time     `json:"valid_to,omitempty"`
	BranchID    *uuid.UUID     `json:"branch_id,omitempty"`
}

// Create creates an edge between two object canonical IDs
// POST /api/v1/graph/relationships
func (h *RelationshipHandler) Create(c echo.Context) error {
	var req createRelationshipRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if req.Type == "" {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("type is required"))
	}
	if req.SrcObjectID == uuid.Nil || req.DstObjectID == uuid.Nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("src_object_id and dst_object_id are required"))
	}

	rel, err := h.relationships.Create(c.Request().Context(), service.CreateRelationshipRequest{
		Type:        req.Type,
		SrcObjectID: req.SrcObjectID,
		DstObjectID: req.DstObjectID,
		Properties:  req.Properties,
		ValidFrom:   req.ValidFrom,
		ValidTo:     req.ValidTo,
		BranchID:    req.BranchID,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, rel)
}

// Get returns one relationship by ID
// GET /api/v1/graph/relationships/:id
func (h *RelationshipHandler) Get(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	rel, err := h.relationships.Get(c.Request().Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, rel)
}

// ListForObject lists active edges touching an object in either direction
// GET /api/v1/graph/objects/:canonicalId/relationships
func (h *RelationshipHandler) ListForObject(c echo.Context) error {
	canonicalID, err := pathUUID(c, "canonicalId")
	if err != nil {
		return respondErr(c, err)
	}

	rels, err := h.relationships.ListForObject(c.Request().Context(), canonicalID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"canonical_id":  canonicalID,
		"relationships": rels,
	})
}

// Delete soft-deletes a relationship
// DELETE /api/v1/graph/relationships/:id
func (h *RelationshipHandler) Delete(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondErr(c, err)
	}

	if err := h.relationships.SoftDelete(c.Request().Context(), id); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
