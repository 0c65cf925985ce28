package middleware

import (
	"context"
	"slices"

	"clinichub/internal/common"
	"clinichub/internal/models"
	"clinichub/internal/services"

	"github.com/labstack/echo/v4"
)

// RoleChecker loads the current role of the authenticated user.
type RoleChecker interface {
	RoleOf(ctx context.Context, payload *services.TokenPayload) (models.Role, error)
}

// RequireRole admits tenant users whose stored role is one of roles. The
// role is read from the tenant database on every request, so role changes
// take effect without reissuing tokens.
func RequireRole(checker RoleChecker, roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			payload, err := RequirePayload(c)
			if err != nil {
				return err
			}

			role, err := checker.RoleOf(c.Request().Context(), payload)
			if err != nil {
				return err
			}
			if !slices.Contains(roles, role) {
				return common.NewError(common.KindForbidden, "Insufficient permissions", nil)
			}
			return next(c)
		}
	}
}
