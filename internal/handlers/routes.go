package handlers

import (
	"clinichub/internal/middleware"
	"clinichub/internal/models"
	"clinichub/internal/services"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiVersion = "v1"

// Dependencies are the services behind the HTTP surface.
type Dependencies struct {
	Auth         services.AuthService
	Tokens       services.TokenService
	Provisioning services.ProvisioningService
	Tenants      services.TenantService
	Resolver     middleware.TenantResolver
	Health       *HealthHandlers
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer     prometheus.Gatherer
	BuildVersion string
}

// NewServer returns an echo instance with the shared middleware stack and
// every route registered.
func NewServer(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Pre(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.VersionHeader(apiVersion, deps.BuildVersion))

	RegisterRoutes(e, deps)
	return e
}

// RegisterRoutes mounts the central, tenant and operational routes.
func RegisterRoutes(e *echo.Echo, deps Dependencies) {
	auth := NewAuthHandlers(deps.Auth)
	orgs := NewTenantHandlers(deps.Provisioning, deps.Tenants)

	if deps.Health != nil {
		e.GET("/health", deps.Health.HealthCheck)
		e.GET("/health/ready", deps.Health.ReadinessCheck)
		e.GET("/health/live", deps.Health.LivenessCheck)
	}
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	requireCentral := middleware.Authenticate(deps.Tokens, models.ScopeCentral)
	central := e.Group("/auth")
	central.POST("/login", auth.Login)
	central.POST("/register", auth.Register)
	central.GET("/verify", auth.VerifyEmail)
	central.POST("/refresh", auth.Refresh)
	central.POST("/logout", auth.Logout, requireCentral)
	central.GET("/me", auth.Me, requireCentral)

	organizations := e.Group("/organizations", requireCentral)
	organizations.POST("", orgs.CreateOrganization)
	organizations.GET("", orgs.ListOrganizations)
	organizations.GET("/:name", orgs.GetOrganization)

	requireTenant := middleware.Authenticate(deps.Tokens, models.ScopeTenant)
	tenant := e.Group("/:tenant/auth", middleware.ResolveTenant(deps.Resolver))
	tenant.POST("/login", auth.TenantLogin)
	tenant.POST("/register", auth.TenantRegister)
	tenant.POST("/refresh", auth.TenantRefresh)
	tenant.POST("/logout", auth.Logout, requireTenant)
	tenant.GET("/me", auth.Me, requireTenant)
	tenant.POST("/users", auth.TenantCreateUser, requireTenant, middleware.RequireRole(deps.Auth, models.RoleAdmin))
}
