package middleware

import (
	"context"
	"net/url"

	"clinichub/internal/common"
	"clinichub/internal/models"

	"github.com/labstack/echo/v4"
)

const msgTenantNotFound = "Organization not found"

// TenantResolver reports whether a tenant with the given name exists.
type TenantResolver interface {
	Resolve(ctx context.Context, name string) (bool, error)
}

// ResolveTenant looks up the :tenant path segment and stores the tenant in
// the request context. Unknown tenants end the request with 404.
func ResolveTenant(resolver TenantResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			name, err := PathParam(c, "tenant")
			if err != nil || name == "" {
				return common.NewError(common.KindNotFound, msgTenantNotFound, nil)
			}

			ctx := c.Request().Context()
			exists, err := resolver.Resolve(ctx, name)
			if err != nil {
				return common.NewError(common.KindInternal, "Failed to resolve organization", err).WithOp("resolve tenant")
			}
			if !exists {
				return common.NewError(common.KindNotFound, msgTenantNotFound, nil)
			}

			tenant := models.TenantContext{Name: name, Slug: models.Slugify(name)}
			c.SetRequest(c.Request().WithContext(common.WithTenant(ctx, tenant)))
			return next(c)
		}
	}
}

// PathParam returns the named path parameter decoded exactly once. Echo
// routes on the decoded path and only keeps parameters escaped when the
// request carried a raw path, such as one with an encoded slash.
func PathParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if c.Request().URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}

// TenantFrom returns the tenant stored by ResolveTenant.
func TenantFrom(c echo.Context) (models.TenantContext, error) {
	tenant, ok := common.GetTenantFromContext(c.Request().Context())
	if !ok {
		return models.TenantContext{}, common.NewError(common.KindNotFound, msgTenantNotFound, nil)
	}
	return tenant, nil
}
