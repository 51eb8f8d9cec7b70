package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/cmd/graphd/container"
	"github.com/stratahq/strata/cmd/graphd/handlers"
	graphmw "github.com/stratahq/strata/cmd/graphd/middleware"
)

// RegisterGraphRoutes registers traversal routes. Expansion carries a
// per-project rate limit because a deep expand is the most expensive
// call the service exposes.
func RegisterGraphRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewGraphHandler(c.Traversal)

	limit := graphmw.ExpandRateLimit(c.Components.Config.RateLimit, c.RateLimiter)
	e.POST("/api/v1/graph/expand", h.Expand, limit)
}
