package handlers

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stratahq/strata/common/apperror"
)

// respondErr maps an application error to its HTTP shape
func respondErr(c echo.Context, err error) error {
	status, body := apperror.ToHTTPError(err)
	return c.JSON(status, body)
}

// pathUUID parses a UUID path parameter
func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.ErrBadRequest.
			WithMessage(fmt.Sprintf("invalid %s: must be a UUID", name))
	}
	return id, nil
}

// queryUUID parses an optional UUID query parameter, returning nil when absent
func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.ErrBadRequest.
			WithMessage(fmt.Sprintf("invalid %s: must be a UUID", name))
	}
	return &id, nil
}
