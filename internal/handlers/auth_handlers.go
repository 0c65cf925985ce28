package handlers

import (
	"net/http"

	"clinichub/internal/middleware"
	"clinichub/internal/models"
	"clinichub/internal/services"

	"github.com/labstack/echo/v4"
)

// AuthHandlers serves the central and tenant authentication routes.
type AuthHandlers struct {
	authService services.AuthService
}

func NewAuthHandlers(authService services.AuthService) *AuthHandlers {
	return &AuthHandlers{authService: authService}
}

type MessageResponse struct {
	Message string `json:"message"`
}

type UserResponse struct {
	User    *models.UserSummary `json:"user"`
	Message string              `json:"message,omitempty"`
}

// Login handles POST /auth/login
func (h *AuthHandlers) Login(c echo.Context) error {
	var req services.LoginRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	resp, err := h.authService.LoginCentral(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Register handles POST /auth/register. The account stays unverified until
// the e-mailed token is presented to /auth/verify.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req services.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	user, err := h.authService.RegisterCentral(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, UserResponse{User: user, Message: "Verification email sent"})
}

// VerifyEmail handles GET /auth/verify?token=
func (h *AuthHandlers) VerifyEmail(c echo.Context) error {
	user, err := h.authService.VerifyEmail(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UserResponse{User: user, Message: "Email verified"})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandlers) Refresh(c echo.Context) error {
	var req models.RefreshTokenRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	resp, err := h.authService.Refresh(c.Request().Context(), models.ScopeCentral, "", req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout revokes the refresh token of the authenticated user, central or tenant.
func (h *AuthHandlers) Logout(c echo.Context) error {
	payload, err := middleware.RequirePayload(c)
	if err != nil {
		return err
	}
	if err := h.authService.Logout(c.Request().Context(), payload); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Logged out"})
}

// Me returns the authenticated user, central or tenant.
func (h *AuthHandlers) Me(c echo.Context) error {
	payload, err := middleware.RequirePayload(c)
	if err != nil {
		return err
	}
	user, err := h.authService.Me(c.Request().Context(), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UserResponse{User: user})
}

// TenantLogin handles POST /:tenant/auth/login
func (h *AuthHandlers) TenantLogin(c echo.Context) error {
	tenant, err := middleware.TenantFrom(c)
	if err != nil {
		return err
	}
	var req services.LoginRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	resp, err := h.authService.LoginTenant(c.Request().Context(), tenant.Slug, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// TenantRegister handles POST /:tenant/auth/register. New users start
// without a role until an admin assigns one.
func (h *AuthHandlers) TenantRegister(c echo.Context) error {
	tenant, err := middleware.TenantFrom(c)
	if err != nil {
		return err
	}
	var req services.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	user, err := h.authService.RegisterTenant(c.Request().Context(), tenant.Slug, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, UserResponse{User: user})
}

// TenantCreateUser handles POST /:tenant/auth/users for tenant admins.
func (h *AuthHandlers) TenantCreateUser(c echo.Context) error {
	tenant, err := middleware.TenantFrom(c)
	if err != nil {
		return err
	}
	var req services.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	user, err := h.authService.CreateTenantUser(c.Request().Context(), tenant.Slug, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, UserResponse{User: user})
}

// TenantRefresh handles POST /:tenant/auth/refresh
func (h *AuthHandlers) TenantRefresh(c echo.Context) error {
	tenant, err := middleware.TenantFrom(c)
	if err != nil {
		return err
	}
	var req models.RefreshTokenRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	resp, err := h.authService.Refresh(c.Request().Context(), models.ScopeTenant, tenant.Slug, req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
