package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	SecretStoreMemory = "memory"
	SecretStoreVault  = "vault"
)

// Duration reads Go duration strings ("60s", "15m") from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the complete configuration
type Config struct {
	Env          string             `toml:"env"`
	Version      string             `toml:"version"`
	Server       ServerConfig       `toml:"server"`
	Database     DatabaseConfig     `toml:"database"`
	Auth         AuthConfig         `toml:"auth"`
	TenantCache  TenantCacheConfig  `toml:"tenant_cache"`
	Redis        RedisConfig        `toml:"redis"`
	Secrets      SecretsConfig      `toml:"secrets"`
	Provisioning ProvisioningConfig `toml:"provisioning"`
	Log          LogConfig          `toml:"log"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	PublicURL       string   `toml:"public_url"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds the registry connection and how tenant databases
// are reached.
type DatabaseConfig struct {
	URL            string `toml:"url"`
	TenantHost     string `toml:"tenant_host"`
	TenantPort     int    `toml:"tenant_port"`
	TenantSSLMode  string `toml:"tenant_sslmode"`
	TenantMaxConns int    `toml:"tenant_max_conns"`
}

type AuthConfig struct {
	AccessSecret     string   `toml:"access_secret"`
	RefreshSecret    string   `toml:"refresh_secret"`
	Issuer           string   `toml:"issuer"`
	Audience         string   `toml:"audience"`
	AccessTTL        Duration `toml:"access_ttl"`
	RefreshTTL       Duration `toml:"refresh_ttl"`
	VerificationTTL  Duration `toml:"verification_ttl"`
	BcryptCost       int      `toml:"bcrypt_cost"`
	PasswordPepper   string   `toml:"password_pepper"`
	OperationTimeout Duration `toml:"operation_timeout"`
}

type TenantCacheConfig struct {
	Backend       string   `toml:"backend"`
	TTL           Duration `toml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type SecretsConfig struct {
	Store      string `toml:"store"`
	VaultAddr  string `toml:"vault_addr"`
	VaultToken string `toml:"vault_token"`
	VaultMount string `toml:"vault_mount"`
}

type ProvisioningConfig struct {
	Timeout Duration `toml:"timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the development defaults every other source overrides.
func Default() *Config {
	return &Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Port:            8080,
			PublicURL:       "http://localhost:8080",
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Database: DatabaseConfig{
			TenantHost:     "localhost",
			TenantPort:     5432,
			TenantMaxConns: 5,
		},
		Auth: AuthConfig{
			Issuer:           "clinichub",
			Audience:         "clinichub-api",
			AccessTTL:        Duration{15 * time.Minute},
			RefreshTTL:       Duration{7 * 24 * time.Hour},
			VerificationTTL:  Duration{24 * time.Hour},
			BcryptCost:       12,
			OperationTimeout: Duration{10 * time.Second},
		},
		TenantCache: TenantCacheConfig{
			Backend:       CacheBackendMemory,
			TTL:           Duration{60 * time.Second},
			SweepInterval: Duration{5 * time.Minute},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Secrets: SecretsConfig{
			Store:      SecretStoreMemory,
			VaultMount: "secret",
		},
		Provisioning: ProvisioningConfig{Timeout: Duration{60 * time.Second}},
		Log:          LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env into the process environment, then the TOML file named by
// CONFIG_FILE, then applies environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadFrom builds the configuration from an optional TOML file and an
// environment lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if !cfg.IsProduction() {
		cfg.fillDevelopmentSecrets()
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// fillDevelopmentSecrets lets a developer start the server without
// configuring signing keys. Validate refuses them in production.
func (c *Config) fillDevelopmentSecrets() {
	if c.Auth.AccessSecret == "" {
		c.Auth.AccessSecret = "dev-access-secret-do-not-use-in-production"
	}
	if c.Auth.RefreshSecret == "" {
		c.Auth.RefreshSecret = "dev-refresh-secret-do-not-use-in-production"
	}
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) string(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (r *envReader) int(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *Duration) {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	dst.Duration = d
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.string("APP_ENV", &c.Env)
	r.string("APP_VERSION", &c.Version)
	r.int("PORT", &c.Server.Port)
	r.string("PUBLIC_URL", &c.Server.PublicURL)
	r.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	r.string("DATABASE_URL", &c.Database.URL)
	r.string("TENANT_DB_HOST", &c.Database.TenantHost)
	r.int("TENANT_DB_PORT", &c.Database.TenantPort)
	r.string("TENANT_DB_SSLMODE", &c.Database.TenantSSLMode)
	r.int("TENANT_DB_MAX_CONNS", &c.Database.TenantMaxConns)

	r.string("JWT_ACCESS_SECRET", &c.Auth.AccessSecret)
	r.string("JWT_REFRESH_SECRET", &c.Auth.RefreshSecret)
	r.string("JWT_ISSUER", &c.Auth.Issuer)
	r.string("JWT_AUDIENCE", &c.Auth.Audience)
	r.duration("JWT_ACCESS_TTL", &c.Auth.AccessTTL)
	r.duration("JWT_REFRESH_TTL", &c.Auth.RefreshTTL)
	r.duration("EMAIL_VERIFICATION_TTL", &c.Auth.VerificationTTL)
	r.int("AUTH_BCRYPT_COST", &c.Auth.BcryptCost)
	r.string("AUTH_PASSWORD_PEPPER", &c.Auth.PasswordPepper)
	r.duration("AUTH_OPERATION_TIMEOUT", &c.Auth.OperationTimeout)

	r.string("TENANT_CACHE_BACKEND", &c.TenantCache.Backend)
	r.duration("TENANT_CACHE_TTL", &c.TenantCache.TTL)
	r.duration("TENANT_CACHE_SWEEP_INTERVAL", &c.TenantCache.SweepInterval)

	r.string("REDIS_ADDR", &c.Redis.Addr)
	r.string("REDIS_PASSWORD", &c.Redis.Password)
	r.int("REDIS_DB", &c.Redis.DB)

	r.string("SECRET_STORE", &c.Secrets.Store)
	r.string("VAULT_ADDR", &c.Secrets.VaultAddr)
	r.string("VAULT_TOKEN", &c.Secrets.VaultToken)
	r.string("VAULT_MOUNT", &c.Secrets.VaultMount)

	r.duration("PROVISIONING_TIMEOUT", &c.Provisioning.Timeout)

	r.string("LOG_LEVEL", &c.Log.Level)
	r.string("LOG_FORMAT", &c.Log.Format)

	if r.err != nil {
		return fmt.Errorf("invalid environment: %w", r.err)
	}
	return nil
}

// minSecretLength is the shortest HMAC key accepted in production.
const minSecretLength = 32

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	switch c.Env {
	case EnvDevelopment, EnvProduction, "test":
	default:
		fail("APP_ENV must be development, production or test, got %q", c.Env)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("PORT must be between 1 and 65535")
	}
	if c.Database.URL == "" {
		fail("DATABASE_URL is required")
	}
	if c.Database.TenantHost == "" || c.Database.TenantPort <= 0 {
		fail("TENANT_DB_HOST and TENANT_DB_PORT are required")
	}

	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		fail("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	} else if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		fail("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.IsProduction() {
		if len(c.Auth.AccessSecret) < minSecretLength || len(c.Auth.RefreshSecret) < minSecretLength {
			fail("JWT secrets must be at least %d bytes in production", minSecretLength)
		}
		if c.Auth.PasswordPepper == "" {
			fail("AUTH_PASSWORD_PEPPER is required in production")
		}
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		fail("AUTH_BCRYPT_COST must be between 4 and 31")
	}

	durations := []struct {
		key   string
		value time.Duration
	}{
		{"JWT_ACCESS_TTL", c.Auth.AccessTTL.Duration},
		{"JWT_REFRESH_TTL", c.Auth.RefreshTTL.Duration},
		{"EMAIL_VERIFICATION_TTL", c.Auth.VerificationTTL.Duration},
		{"AUTH_OPERATION_TIMEOUT", c.Auth.OperationTimeout.Duration},
		{"TENANT_CACHE_TTL", c.TenantCache.TTL.Duration},
		{"TENANT_CACHE_SWEEP_INTERVAL", c.TenantCache.SweepInterval.Duration},
		{"PROVISIONING_TIMEOUT", c.Provisioning.Timeout.Duration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			fail("%s must be positive", d.key)
		}
	}

	switch c.TenantCache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			fail("REDIS_ADDR is required for the redis tenant cache")
		}
	default:
		fail("unknown TENANT_CACHE_BACKEND %q", c.TenantCache.Backend)
	}

	switch c.Secrets.Store {
	case SecretStoreMemory:
		if c.IsProduction() {
			fail("SECRET_STORE=memory loses tenant credentials on restart and is not allowed in production")
		}
	case SecretStoreVault:
		if c.Secrets.VaultAddr == "" || c.Secrets.VaultToken == "" {
			fail("VAULT_ADDR and VAULT_TOKEN are required for the vault secret store")
		}
	default:
		fail("unknown SECRET_STORE %q", c.Secrets.Store)
	}

	return errs
}
