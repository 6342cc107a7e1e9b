package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medibridge/clinic/internal/domain/identity"
)

// RequireRole returns middleware that checks the caller has one of the
// specified roles.
func RequireRole(roles ...identity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := UserFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
			}
			if !u.HasRole(roles...) {
				return echo.NewHTTPError(http.StatusForbidden, "Access denied")
			}
			return next(c)
		}
	}
}
