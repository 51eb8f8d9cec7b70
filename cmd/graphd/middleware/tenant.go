package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/common/apperror"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/tenant"
)

// Headers carrying the authenticated tenant identity. An upstream gateway
// validates the token and injects these; this service trusts them.
const (
	HeaderOrgID     = "X-Org-ID"
	HeaderProjectID = "X-Project-ID"
)

// TenantScope resolves the request's tenant scope from headers and pushes
// it onto the context's scope stack. The org header is optional: a missing
// org is derived from the project through the cached lookup. Requests with
// no tenant headers at all run under the wildcard scope only when the
// deployment explicitly allows it.
func TenantScope(cfg config.TenantConfig, scopes *tenant.ScopeResolver, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/health" {
				return next(c)
			}

			orgHeader := c.Request().Header.Get(HeaderOrgID)
			projectHeader := c.Request().Header.Get(HeaderProjectID)

			if projectHeader == "" {
				if orgHeader != "" {
					return apperror.ErrBadRequest.
						WithMessage("X-Org-ID requires X-Project-ID").
						ToEchoError()
				}
				if !cfg.AllowWildcard {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing tenant headers")
				}
				// System scope: RLS treats the unset variables as
				// visible-to-all.
				ctx := tenant.With(c.Request().Context(), tenant.Scope{})
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}

			projectID, err := uuid.Parse(projectHeader)
			if err != nil {
				return apperror.ErrBadRequest.
					WithMessage("X-Project-ID must be a UUID").
					ToEchoError()
			}

			var orgID uuid.UUID
			if orgHeader != "" {
				orgID, err = uuid.Parse(orgHeader)
				if err != nil {
					return apperror.ErrBadRequest.
						WithMessage("X-Org-ID must be a UUID").
						ToEchoError()
				}
			} else {
				orgID, err = scopes.OrgForProject(c.Request().Context(), projectID)
				if err != nil {
					log.Warn("failed to resolve project organization",
						"project_id", projectID,
						"error", err,
					)
					status, body := apperror.ToHTTPError(err)
					return c.JSON(status, body)
				}
			}

			ctx := tenant.With(c.Request().Context(), tenant.Scope{
				OrgID:     orgID,
				ProjectID: projectID,
			})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
