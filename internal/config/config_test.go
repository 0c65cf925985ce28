package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("", env(map[string]string{"DATABASE_URL": "postgres://localhost/clinichub"}))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.TenantCache.TTL.Duration)
	assert.Equal(t, 60*time.Second, cfg.Provisioning.Timeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Auth.OperationTimeout.Duration)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.NotEmpty(t, cfg.Auth.AccessSecret)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinichub.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
env = "production"

[database]
url = "postgres://file/clinichub"
tenant_host = "db.internal"

[auth]
access_secret = "file-access-secret-0123456789abcdef"
refresh_secret = "file-refresh-secret-0123456789abcdef"
password_pepper = "pepper"
access_ttl = "5m"

[tenant_cache]
backend = "redis"
ttl = "30s"

[secrets]
store = "vault"
vault_addr = "http://vault:8200"
vault_token = "root"
`), 0o600))

	cfg, err := LoadFrom(path, env(map[string]string{
		"DATABASE_URL":     "postgres://env/clinichub",
		"TENANT_CACHE_TTL": "2m",
		"REDIS_DB":         "3",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://env/clinichub", cfg.Database.URL)
	assert.Equal(t, "db.internal", cfg.Database.TenantHost)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL.Duration)
	assert.Equal(t, 2*time.Minute, cfg.TenantCache.TTL.Duration)
	assert.Equal(t, CacheBackendRedis, cfg.TenantCache.Backend)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_InvalidEnvValues(t *testing.T) {
	_, err := LoadFrom("", env(map[string]string{
		"PORT":             "eighty",
		"TENANT_CACHE_TTL": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "TENANT_CACHE_TTL")
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"), env(nil))
	assert.Error(t, err)
}

func TestValidate_Production(t *testing.T) {
	cfg, err := LoadFrom("", env(map[string]string{
		"APP_ENV":      "production",
		"DATABASE_URL": "postgres://localhost/clinichub",
	}))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	assert.Contains(t, err.Error(), "AUTH_PASSWORD_PEPPER")
	assert.Contains(t, err.Error(), "SECRET_STORE=memory")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/clinichub"
	cfg.fillDevelopmentSecrets()
	cfg.TenantCache.Backend = "memcached"
	cfg.Secrets.Store = "vault"
	cfg.Auth.AccessTTL = Duration{}
	cfg.Auth.BcryptCost = 40

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"unknown TENANT_CACHE_BACKEND",
		"VAULT_ADDR and VAULT_TOKEN",
		"JWT_ACCESS_TTL must be positive",
		"AUTH_BCRYPT_COST",
	} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = Default()
	cfg.Database.URL = "postgres://localhost/clinichub"
	cfg.Auth.AccessSecret = "same"
	cfg.Auth.RefreshSecret = "same"
	assert.ErrorContains(t, cfg.Validate(), "must differ")
}
