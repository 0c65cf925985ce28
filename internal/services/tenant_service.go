package services

import (
	"context"
	"errors"

	"clinichub/internal/common"
	"clinichub/internal/models"
	"clinichub/internal/repositories"
)

// TenantService reads the tenant registry. Tenants are only created through
// ProvisioningService.
type TenantService interface {
	GetByName(ctx context.Context, name string) (*models.Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*models.Tenant, error)
}

type tenantService struct {
	tenantRepo repositories.TenantRepository
}

func NewTenantService(tenantRepo repositories.TenantRepository) TenantService {
	return &tenantService{tenantRepo: tenantRepo}
}

func (s *tenantService) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	if err := common.ValidateRequiredString(name, "Organization name"); err != nil {
		return nil, err
	}
	tenant, err := s.tenantRepo.GetByName(ctx, name)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, common.NewError(common.KindNotFound, "Organization not found", err)
	}
	return tenant, err
}

func (s *tenantService) List(ctx context.Context, limit, offset int) ([]*models.Tenant, error) {
	limit, offset = common.ValidatePaginationParams(limit, offset)
	return s.tenantRepo.List(ctx, limit, offset)
}
