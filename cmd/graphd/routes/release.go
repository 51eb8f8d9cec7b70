package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/container"
	"github.com/stratahq/strata/cmd/graphd/handlers"
)

// RegisterReleaseRoutes registers snapshot and tag routes
func RegisterReleaseRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewReleaseHandler(c.Releases)

	releases := e.Group("/api/v1/graph/releases")
	{
		releases.POST("", h.Freeze)
		releases.GET("", h.List)
		releases.GET("/:id", h.Get)
		releases.GET("/:id/members", h.Members)
		releases.GET("/:id/diff/:otherId", h.Diff)
	}

	tags := e.Group("/api/v1/graph/tags")
	{
		tags.GET("", h.ListTags)
		tags.PUT("/:name", h.Tag)
		tags.GET("/:name", h.GetTag)
		tags.DELETE("/:name", h.DeleteTag)
	}
}
