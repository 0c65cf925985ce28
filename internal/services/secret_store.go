package services

import (
	"context"
	"errors"

	"clinichub/internal/metrics"
	"clinichub/internal/models"
)

var (
	ErrSecretExists   = errors.New("secret already exists")
	ErrSecretNotFound = errors.New("secret not found")
)

// SecretStore keeps the per-tenant database credentials.
type SecretStore interface {
	// CreateSecret fails with ErrSecretExists if name is already taken.
	CreateSecret(ctx context.Context, name string, creds *models.DatabaseCredentials) (*models.SecretMetadata, error)
	GetSecret(ctx context.Context, name string) (*models.DatabaseCredentials, error)
	// DeleteSecret removes every version of name. Deleting a missing secret
	// is not an error.
	DeleteSecret(ctx context.Context, name string) error
}

var _ SecretStore = (*SecretStoreMetrics)(nil)

// SecretStoreMetrics counts calls to the wrapped store by operation and result.
type SecretStoreMetrics struct {
	m     *metrics.Metrics
	store SecretStore
}

func NewSecretStoreMetrics(m *metrics.Metrics, store SecretStore) *SecretStoreMetrics {
	return &SecretStoreMetrics{m: m, store: store}
}

func (s *SecretStoreMetrics) record(op string, err error) error {
	s.m.SecretStoreCalls.WithLabelValues(op, metrics.Result(err)).Inc()
	return err
}

func (s *SecretStoreMetrics) CreateSecret(ctx context.Context, name string, creds *models.DatabaseCredentials) (*models.SecretMetadata, error) {
	meta, err := s.store.CreateSecret(ctx, name, creds)
	return meta, s.record("create_secret", err)
}

func (s *SecretStoreMetrics) GetSecret(ctx context.Context, name string) (*models.DatabaseCredentials, error) {
	creds, err := s.store.GetSecret(ctx, name)
	return creds, s.record("get_secret", err)
}

func (s *SecretStoreMetrics) DeleteSecret(ctx context.Context, name string) error {
	return s.record("delete_secret", s.store.DeleteSecret(ctx, name))
}
