package handlers

import (
	"net/http"
	"strconv"

	"clinichub/internal/common"
	"clinichub/internal/middleware"
	"clinichub/internal/models"
	"clinichub/internal/services"

	"github.com/labstack/echo/v4"
)

// TenantHandlers serves the organization registry routes.
type TenantHandlers struct {
	provisioning services.ProvisioningService
	tenants      services.TenantService
}

func NewTenantHandlers(provisioning services.ProvisioningService, tenants services.TenantService) *TenantHandlers {
	return &TenantHandlers{provisioning: provisioning, tenants: tenants}
}

type CreateOrganizationRequest struct {
	Name string `json:"name"`
}

type CreateOrganizationResponse struct {
	Organization *models.Tenant              `json:"organization"`
	Database     *models.ProvisioningOutcome `json:"database"`
}

type ListOrganizationsResponse struct {
	Organizations []*models.Tenant `json:"organizations"`
	Limit         int              `json:"limit"`
	Offset        int              `json:"offset"`
}

// CreateOrganization handles POST /organizations
func (h *TenantHandlers) CreateOrganization(c echo.Context) error {
	var req CreateOrganizationRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}

	tenant, outcome, err := h.provisioning.CreateTenant(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CreateOrganizationResponse{Organization: tenant, Database: outcome})
}

// ListOrganizations handles GET /organizations?limit=&offset=
func (h *TenantHandlers) ListOrganizations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset = common.ValidatePaginationParams(limit, offset)

	tenants, err := h.tenants.List(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListOrganizationsResponse{Organizations: tenants, Limit: limit, Offset: offset})
}

// GetOrganization handles GET /organizations/:name
func (h *TenantHandlers) GetOrganization(c echo.Context) error {
	name, err := middleware.PathParam(c, "name")
	if err != nil {
		return common.Invalid("Organization name is invalid")
	}
	tenant, err := h.tenants.GetByName(c.Request().Context(), name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}
