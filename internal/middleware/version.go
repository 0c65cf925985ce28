package middleware

import (
	"github.com/labstack/echo/v4"
)

const (
	HeaderAPIVersion = "X-API-Version"
	HeaderAppVersion = "X-App-Version"
)

// VersionHeader stamps the API version and the running build on every
// response. An empty build version is omitted.
func VersionHeader(apiVersion, buildVersion string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(HeaderAPIVersion, apiVersion)
			if buildVersion != "" {
				h.Set(HeaderAppVersion, buildVersion)
			}
			return next(c)
		}
	}
}
