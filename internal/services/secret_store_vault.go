package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"clinichub/internal/models"

	"github.com/hashicorp/vault/api"
)

// vaultLogical is the subset of *api.Logical used by the store.
type vaultLogical interface {
	Read(path string) (*api.Secret, error)
	Write(path string, data map[string]interface{}) (*api.Secret, error)
	Delete(path string) (*api.Secret, error)
}

// VaultConfig may set up the vault client. Zero values fall back to the
// standard VAULT_* environment variables.
type VaultConfig struct {
	Address       string
	Token         string
	Mount         string
	ClientTimeout time.Duration
	MaxRetries    int
}

// VaultSecretStore stores credentials in a KV version 2 secrets engine.
type VaultSecretStore struct {
	logical vaultLogical
	mount   string

	mu sync.Mutex
	// writes still running per secret name, including ones whose caller
	// already gave up on them
	pending map[string][]chan struct{}
}

var _ SecretStore = (*VaultSecretStore)(nil)

func NewVaultSecretStore(cfg VaultConfig) (*VaultSecretStore, error) {
	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, apiCfg.Error
	}
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.ClientTimeout > 0 {
		apiCfg.Timeout = cfg.ClientTimeout
	}
	if cfg.MaxRetries > 0 {
		apiCfg.MaxRetries = cfg.MaxRetries
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return newVaultSecretStore(client.Logical(), cfg.Mount), nil
}

func newVaultSecretStore(logical vaultLogical, mount string) *VaultSecretStore {
	mount = strings.Trim(mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &VaultSecretStore{logical: logical, mount: mount, pending: map[string][]chan struct{}{}}
}

// beginWrite records an in-flight write of name. The returned func must run
// once the vault call has returned.
func (s *VaultSecretStore) beginWrite(name string) func() {
	done := make(chan struct{})
	s.mu.Lock()
	s.pending[name] = append(s.pending[name], done)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		chans := s.pending[name]
		for i, ch := range chans {
			if ch == done {
				chans = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(chans) == 0 {
			delete(s.pending, name)
		} else {
			s.pending[name] = chans
		}
		s.mu.Unlock()
		close(done)
	}
}

// awaitWrites blocks until every write of name started so far has returned.
func (s *VaultSecretStore) awaitWrites(ctx context.Context, name string) error {
	s.mu.Lock()
	chans := append([]chan struct{}(nil), s.pending[name]...)
	s.mu.Unlock()

	for _, ch := range chans {
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("write of %s still in flight: %w", name, ctx.Err())
		}
	}
	return nil
}

func (s *VaultSecretStore) dataPath(name string) string {
	return fmt.Sprintf("%s/data/%s", s.mount, name)
}

func (s *VaultSecretStore) metadataPath(name string) string {
	return fmt.Sprintf("%s/metadata/%s", s.mount, name)
}

// CreateSecret writes version 1 of name. The check-and-set option of 0 makes
// vault reject the write when the secret already exists.
func (s *VaultSecretStore) CreateSecret(ctx context.Context, name string, creds *models.DatabaseCredentials) (*models.SecretMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := credentialsToMap(creds)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"data":    data,
		"options": map[string]interface{}{"cas": 0},
	}

	finish := s.beginWrite(name)
	sec, err := withContext(ctx, func() (*api.Secret, error) {
		defer finish()
		return s.logical.Write(s.dataPath(name), body)
	})
	if err != nil {
		if strings.Contains(err.Error(), "check-and-set") {
			return nil, fmt.Errorf("%w: %s", ErrSecretExists, name)
		}
		return nil, fmt.Errorf("write secret %s: %w", name, err)
	}

	meta := &models.SecretMetadata{
		Name:    name,
		ARN:     "vault:" + s.dataPath(name),
		Version: "1",
	}
	if sec != nil {
		if v, ok := sec.Data["version"]; ok {
			meta.Version = fmt.Sprint(v)
		}
		if created, ok := sec.Data["created_time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
				meta.CreatedAt = t
			}
		}
	}
	return meta, nil
}

func (s *VaultSecretStore) GetSecret(ctx context.Context, name string) (*models.DatabaseCredentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sec, err := withContext(ctx, func() (*api.Secret, error) {
		return s.logical.Read(s.dataPath(name))
	})
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	if sec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	// a deleted latest version reads back with nil data
	data, ok := sec.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	creds := &models.DatabaseCredentials{}
	if err := json.Unmarshal(raw, creds); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	return creds, nil
}

// DeleteSecret removes the metadata and with it all versions of name. A write
// of name that is still running, even one abandoned by a timed-out
// CreateSecret, completes before the delete is sent.
func (s *VaultSecretStore) DeleteSecret(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.awaitWrites(ctx, name); err != nil {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	_, err := withContext(ctx, func() (*api.Secret, error) {
		return s.logical.Delete(s.metadataPath(name))
	})
	if err != nil {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

func credentialsToMap(creds *models.DatabaseCredentials) (map[string]interface{}, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// withContext runs a blocking vault call and gives up when ctx is done. The
// abandoned call keeps running until the client timeout. call always starts,
// so callers check ctx first.
func withContext(ctx context.Context, call func() (*api.Secret, error)) (*api.Secret, error) {
	type result struct {
		sec *api.Secret
		err error
	}
	done := make(chan result, 1)
	go func() {
		sec, err := call()
		done <- result{sec, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.sec, r.err
	}
}
