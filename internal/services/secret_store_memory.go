package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinichub/internal/models"
)

type memorySecret struct {
	creds models.DatabaseCredentials
	meta  models.SecretMetadata
}

// MemorySecretStore keeps secrets in process. It is meant for local
// development and tests.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]memorySecret
	now     func() time.Time
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]memorySecret), now: time.Now}
}

func (s *MemorySecretStore) CreateSecret(ctx context.Context, name string, creds *models.DatabaseCredentials) (*models.SecretMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretExists, name)
	}
	meta := models.SecretMetadata{
		Name:      name,
		ARN:       "arn:clinichub:secrets:local:secret:" + name,
		Version:   "1",
		CreatedAt: s.now().UTC(),
	}
	s.secrets[name] = memorySecret{creds: *creds, meta: meta}
	return &meta, nil
}

func (s *MemorySecretStore) GetSecret(ctx context.Context, name string) (*models.DatabaseCredentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	creds := secret.creds
	return &creds, nil
}

func (s *MemorySecretStore) DeleteSecret(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.secrets, name)
	s.mu.Unlock()
	return nil
}
