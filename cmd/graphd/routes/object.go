package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/container"
	"github.com/stratahq/strata/cmd/graphd/handlers"
)

// RegisterObjectRoutes registers versioned object routes
func RegisterObjectRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewObjectHandler(c.Objects)
	rh := handlers.NewRelationshipHandler(c.Relationships)

	objects := e.Group("/api/v1/graph/objects")
	{
		objects.POST("", h.Create)
		objects.GET("", h.ListByType)
		objects.GET("/:canonicalId", h.Get)
		objects.PATCH("/:canonicalId", h.Patch)
		objects.DELETE("/:canonicalId", h.Delete)
		objects.POST("/:canonicalId/versions", h.CreateVersion)
		objects.GET("/:canonicalId/history", h.History)
		objects.POST("/:canonicalId/restore", h.Restore)
		objects.GET("/:canonicalId/relationships", rh.ListForObject)
	}
}
