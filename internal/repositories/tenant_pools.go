package repositories

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"clinichub/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// SecretReader fetches the database credentials stored for a tenant.
type SecretReader interface {
	GetSecret(ctx context.Context, name string) (*models.DatabaseCredentials, error)
}

// PoolOpener builds a connection pool from a DSN. Tests replace it.
type PoolOpener func(ctx context.Context, dsn string) (*pgxpool.Pool, error)

// TenantPools lazily opens one connection pool per tenant database using the
// credentials kept in the secret store.
type TenantPools struct {
	secrets SecretReader
	open    PoolOpener
	sslMode string

	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
}

// NewTenantPools caps each tenant pool at maxConns connections; zero keeps
// the pgxpool default. An empty sslMode leaves the driver default.
func NewTenantPools(secrets SecretReader, maxConns int32, sslMode string) *TenantPools {
	return &TenantPools{
		secrets: secrets,
		open:    openPool(maxConns),
		sslMode: sslMode,
		pools:   make(map[string]*pgxpool.Pool),
	}
}

func openPool(maxConns int32) PoolOpener {
	return func(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}
		if maxConns > 0 {
			cfg.MaxConns = maxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}
}

// ForTenant returns the user store of the tenant identified by slug.
func (p *TenantPools) ForTenant(ctx context.Context, slug string) (UserRepository, error) {
	pool, err := p.Pool(ctx, slug)
	if err != nil {
		return nil, err
	}
	return NewTenantUserRepo(pool), nil
}

// Pool returns the cached pool for slug, opening and migrating it on first use.
func (p *TenantPools) Pool(ctx context.Context, slug string) (*pgxpool.Pool, error) {
	p.mu.RLock()
	pool, ok := p.pools[slug]
	p.mu.RUnlock()
	if ok {
		return pool, nil
	}

	creds, err := p.secrets.GetSecret(ctx, models.SecretName(slug))
	if err != nil {
		return nil, fmt.Errorf("load credentials for tenant %s: %w", slug, err)
	}

	opened, err := p.open(ctx, CredentialsDSN(creds, p.sslMode))
	if err != nil {
		return nil, fmt.Errorf("connect tenant %s: %w", slug, err)
	}
	if err := MigrateTenant(ctx, opened); err != nil {
		opened.Close()
		return nil, fmt.Errorf("migrate tenant %s: %w", slug, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.pools[slug]; ok {
		opened.Close()
		return existing, nil
	}
	p.pools[slug] = opened
	log.Info().Str("tenant", slug).Str("database", creds.DatabaseName).Msg("Opened tenant connection pool")
	return opened, nil
}

// Close closes every open tenant pool.
func (p *TenantPools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for slug, pool := range p.pools {
		pool.Close()
		delete(p.pools, slug)
	}
}

// CredentialsDSN renders the stored credentials as a postgres URL.
func CredentialsDSN(creds *models.DatabaseCredentials, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.Username, creds.Password),
		Host:   net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port)),
		Path:   "/" + creds.DatabaseName,
	}
	if sslMode != "" {
		u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	}
	return u.String()
}
