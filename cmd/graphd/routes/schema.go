package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/container"
	"github.com/stratahq/strata/cmd/graphd/handlers"
)

// RegisterSchemaRoutes registers type schema routes
func RegisterSchemaRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSchemaHandler(c.Registry)

	schemas := e.Group("/api/v1/graph/schemas")
	{
		schemas.POST("/objects", h.PublishObjectSchema)
		schemas.GET("/objects", h.ListObjectSchemas)
		schemas.GET("/objects/:type", h.GetObjectSchema)
		schemas.POST("/relationships", h.PublishRelationshipSchema)
		schemas.GET("/relationships", h.ListRelationshipSchemas)
		schemas.GET("/relationships/:type", h.GetRelationshipSchema)
	}
}
