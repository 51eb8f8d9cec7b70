package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/ratelimit"
	"github.com/stratahq/strata/common/tenant"
)

// ExpandRateLimit caps graph expansion calls per project. Wildcard-scoped
// requests are not limited; they are operator traffic.
func ExpandRateLimit(cfg config.RateLimitConfig, limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Enabled || limiter == nil {
				return next(c)
			}
			scope := tenant.From(c.Request().Context())
			if scope.IsWildcard() {
				return next(c)
			}

			result, err := limiter.CheckExpandLimit(c.Request().Context(), scope.ProjectID, cfg.ExpandPerMinute)
			if err != nil {
				// Limiter outages must not take the endpoint down.
				return next(c)
			}
			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]any{
					"error": map[string]any{
						"code":    "rate_limited",
						"message": "Expansion rate limit exceeded for project",
					},
				})
			}
			return next(c)
		}
	}
}
