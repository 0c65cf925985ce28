package middleware

import (
	"net/http"
	"strings"

	"clinichub/internal/common"
	"clinichub/internal/models"
	"clinichub/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const payloadKey = "auth_payload"

const (
	msgTokenRequired = "Authentication token required"
	msgInvalidToken  = "Invalid or expired token"
)

// Authenticate validates the bearer access token and requires it to carry
// scope. Tenant tokens must also belong to the tenant resolved from the path,
// so ResolveTenant has to run first on tenant routes.
func Authenticate(tokens services.TokenService, scope models.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, msgTokenRequired)
			}

			payload, err := tokens.VerifyAccessToken(raw)
			if err == nil {
				err = payload.RequireScope(scope)
			}
			if err == nil && scope == models.ScopeTenant {
				tenant, found := common.GetTenantFromContext(c.Request().Context())
				if !found {
					return echo.NewHTTPError(http.StatusInternalServerError, "Tenant not resolved")
				}
				err = payload.RequireTenant(tenant.Slug)
			}
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("Rejected access token")
				return echo.NewHTTPError(http.StatusUnauthorized, msgInvalidToken)
			}

			c.Set(payloadKey, payload)
			return next(c)
		}
	}
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// PayloadFrom returns the token payload stored by Authenticate.
func PayloadFrom(c echo.Context) (*services.TokenPayload, bool) {
	payload, ok := c.Get(payloadKey).(*services.TokenPayload)
	return payload, ok && payload != nil
}

// RequirePayload is PayloadFrom for handlers mounted behind Authenticate.
func RequirePayload(c echo.Context) (*services.TokenPayload, error) {
	payload, ok := PayloadFrom(c)
	if !ok {
		return nil, common.Unauthenticated(msgTokenRequired, nil)
	}
	return payload, nil
}
