package services

import (
	"context"

	"clinichub/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockTenantRepository struct {
	mock.Mock
}

func (m *MockTenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *MockTenantRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTenantRepository) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockTenantRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockTenantRepository) List(ctx context.Context, limit, offset int) ([]*models.Tenant, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*models.Tenant), args.Error(1)
}

type MockDatabaseProvisioner struct {
	mock.Mock
}

func (m *MockDatabaseProvisioner) CreateTenantDatabase(ctx context.Context, dbName, roleName, password string) error {
	args := m.Called(ctx, dbName, roleName, password)
	return args.Error(0)
}

func (m *MockDatabaseProvisioner) DropTenantDatabase(ctx context.Context, dbName, roleName string) error {
	args := m.Called(ctx, dbName, roleName)
	return args.Error(0)
}

type MockSecretStore struct {
	mock.Mock
}

func (m *MockSecretStore) CreateSecret(ctx context.Context, name string, creds *models.DatabaseCredentials) (*models.SecretMetadata, error) {
	args := m.Called(ctx, name, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SecretMetadata), args.Error(1)
}

func (m *MockSecretStore) GetSecret(ctx context.Context, name string) (*models.DatabaseCredentials, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DatabaseCredentials), args.Error(1)
}

func (m *MockSecretStore) DeleteSecret(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type MockTenantInvalidator struct {
	mock.Mock
}

func (m *MockTenantInvalidator) Invalidate(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendVerification(ctx context.Context, email, token string) error {
	args := m.Called(ctx, email, token)
	return args.Error(0)
}
