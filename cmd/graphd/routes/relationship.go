package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/container"
	"github.com/stratahq/strata/cmd/graphd/handlers"
)

// RegisterRelationshipRoutes registers relationship (edge) routes
func RegisterRelationshipRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRelationshipHandler(c.Relationships)

	relationships := e.Group("/api/v1/graph/relationships")
	{
		relationships.POST("", h.Create)
		relationships.GET("/:id", h.Get)
		relationships.DELETE("/:id", h.Delete)
	}
}
