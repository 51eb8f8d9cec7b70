package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/container"
	"github.com/stratahq/strata/cmd/graphd/handlers"
)

// RegisterBranchRoutes registers branch lifecycle and merge routes
func RegisterBranchRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBranchHandler(c.Branches, c.Objects, c.Merges)

	branches := e.Group("/api/v1/graph/branches")
	{
		branches.POST("", h.Create)
		branches.GET("", h.List)
		branches.GET("/:id", h.Get)
		branches.DELETE("/:id", h.Archive)
		branches.GET("/:id/lineage", h.Lineage)
		branches.GET("/:id/objects/:canonicalId", h.GetObject)
		branches.POST("/:id/merge", h.Merge)
	}
}
