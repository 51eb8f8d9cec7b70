package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/service"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/models"
	"github.com/stratahq/strata/common/tenant"
)

// SchemaHandler handles type schema publication and lookup
type SchemaHandler struct {
	registry *service.SchemaRegistry
}

// NewSchemaHandler creates a new schema handler
func NewSchemaHandler(registry *service.SchemaRegistry) *SchemaHandler {
	return &SchemaHandler{registry: registry}
}

// schemaScope selects which tenant level a published schema binds to.
// Project is the default; org makes it shared across the org's
// projects; global (wildcard scope only) makes it visible to everyone.
type schemaScope string

const (
	scopeProject      schemaScope = "project"
	scopeOrganization schemaScope = "organization"
	scopeGlobal       schemaScope = "global"
)

// resolveScope maps the requested schema scope onto org/project columns
func resolveScope(c echo.Context, requested schemaScope) (*uuid.UUID, *uuid.UUID, error) {
	scope := tenant.From(c.Request().Context())
	if requested == "" {
		if scope.IsWildcard() {
			requested = scopeGlobal
		} else {
			requested = scopeProject
		}
	}

	switch requested {
	case scopeGlobal:
		if !scope.IsWildcard() {
			return nil, nil, apperror.ErrBadRequest.
				WithMessage("global schemas require the system scope")
		}
		return nil, nil, nil
	case scopeOrganization:
		if scope.OrgID == uuid.Nil {
			return nil, nil, apperror.ErrBadRequest.
				WithMessage("organization schemas require an organization scope")
		}
		org := scope.OrgID
		return &org, nil, nil
	case scopeProject:
		if scope.IsWildcard() {
			return nil, nil, apperror.ErrBadRequest.
				WithMessage("project schemas require a project scope")
		}
		org, project := scope.OrgID, scope.ProjectID
		return &org, &project, nil
	default:
		return nil, nil, apperror.ErrBadRequest.
			WithMessage("scope must be project, organization, or global")
	}
}

type publishObjectSchemaRequest struct {
	Type            string                          `json:"type"`
	Schema          json.RawMessage                 `json:"schema"`
	MergeStrategies map[string]models.MergeStrategy `json:"merge_strategies,omitempty"`
	Scope           schemaScope                     `json:"scope,omitempty"`
}

// PublishObjectSchema registers a new version of an object type schema
// POST /api/v1/graph/schemas/objects
func (h *SchemaHandler) PublishObjectSchema(c echo.Context) error {
	var req publishObjectSchemaRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	if len(req.Schema) == 0 {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("schema is required"))
	}
	orgID, projectID, err := resolveScope(c, req.Scope)
	if err != nil {
		return respondErr(c, err)
	}

	schema := &models.ObjectTypeSchema{
		OrganizationID:  orgID,
		ProjectID:       projectID,
		Type:            req.Type,
		Schema:          req.Schema,
		MergeStrategies: req.MergeStrategies,
	}
	if err := h.registry.PublishObjectSchema(c.Request().Context(), schema); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, schema)
}

type publishRelationshipSchemaRequest struct {
	Type             string              `json:"type"`
	SourceTypes      []string            `json:"source_types,omitempty"`
	DestinationTypes []string            `json:"destination_types,omitempty"`
	Multiplicity     models.Multiplicity `json:"multiplicity,omitempty"`
	Schema           json.RawMessage     `json:"schema,omitempty"`
	Scope            schemaScope         `json:"scope,omitempty"`
}

// PublishRelationshipSchema registers a new version of a relationship
// type schema
// POST /api/v1/graph/schemas/relationships
func (h *SchemaHandler) PublishRelationshipSchema(c echo.Context) error {
	var req publishRelationshipSchemaRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, apperror.ErrBadRequest.WithMessage("invalid request body"))
	}
	orgID, projectID, err := resolveScope(c, req.Scope)
	if err != nil {
		return respondErr(c, err)
	}

	schema := &models.RelationshipTypeSchema{
		OrganizationID:   orgID,
		ProjectID:        projectID,
		Type:             req.Type,
		SourceTypes:      req.SourceTypes,
		DestinationTypes: req.DestinationTypes,
		Multiplicity:     req.Multiplicity,
		Schema:           req.Schema,
	}
	if err := h.registry.PublishRelationshipSchema(c.Request().Context(), schema); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, schema)
}

// GetObjectSchema resolves the active schema for an object type
// GET /api/v1/graph/schemas/objects/:type
func (h *SchemaHandler) GetObjectSchema(c echo.Context) error {
	schema, err := h.registry.ObjectSchema(c.Request().Context(), c.Param("type"))
	if err != nil {
		return respondErr(c, err)
	}
	if schema == nil {
		return respondErr(c, apperror.NewNotFound("object type schema", c.Param("type")))
	}
	return c.JSON(http.StatusOK, schema)
}

// GetRelationshipSchema resolves the active schema for a relationship type
// GET /api/v1/graph/schemas/relationships/:type
func (h *SchemaHandler) GetRelationshipSchema(c echo.Context) error {
	schema, err := h.registry.RelationshipSchema(c.Request().Context(), c.Param("type"))
	if err != nil {
		return respondErr(c, err)
	}
	if schema == nil {
		return respondErr(c, apperror.NewNotFound("relationship type schema", c.Param("type")))
	}
	return c.JSON(http.StatusOK, schema)
}

// ListObjectSchemas lists the latest version of every visible object type
// GET /api/v1/graph/schemas/objects
func (h *SchemaHandler) ListObjectSchemas(c echo.Context) error {
	schemas, err := h.registry.ListObjectSchemas(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"schemas": schemas})
}

// ListRelationshipSchemas lists the latest version of every visible
// relationship type
// GET /api/v1/graph/schemas/relationships
func (h *SchemaHandler) ListRelationshipSchemas(c echo.Context) error {
	schemas, err := h.registry.ListRelationshipSchemas(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"schemas": schemas})
}
