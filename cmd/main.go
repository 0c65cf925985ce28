package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinichub/internal/caching"
	"clinichub/internal/config"
	"clinichub/internal/handlers"
	"clinichub/internal/jobs"
	"clinichub/internal/metrics"
	"clinichub/internal/repositories"
	"clinichub/internal/services"
	"clinichub/pkg/database"
	"clinichub/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("env", cfg.Env).Str("version", cfg.Version).Msg("Starting clinichub")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect registry database: %w", err)
	}
	defer pool.Close()

	if err := repositories.MigrateRegistry(ctx, pool); err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}

	secrets, err := newSecretStore(cfg)
	if err != nil {
		return err
	}
	instrumentedSecrets := services.NewSecretStoreMetrics(m, secrets)

	health := handlers.NewHealthHandlers(cfg.Version).
		AddCheck("database", true, pool.Ping)

	tenantRepo := repositories.NewTenantRepo(pool)

	var store caching.Store
	switch cfg.TenantCache.Backend {
	case config.CacheBackendRedis:
		client, err := caching.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		store = caching.NewRedisStore(client)
		health.AddCheck("cache", false, redisCheck(client))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis tenant cache initialized")
	default:
		memory := caching.NewMemoryStore()
		store = memory
		sweeper, err := jobs.NewCacheSweeper(memory, cfg.TenantCache.SweepInterval.Duration, m)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			if err := sweeper.Stop(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop cache sweeper")
			}
		}()
		log.Info().Msg("Memory tenant cache initialized")
	}
	tenantCache := caching.NewTenantCache(tenantRepo, store, cfg.TenantCache.TTL.Duration, m)

	tenantPools := repositories.NewTenantPools(instrumentedSecrets, int32(cfg.Database.TenantMaxConns), cfg.Database.TenantSSLMode)
	defer tenantPools.Close()

	credentials, err := services.NewCredentialService(cfg.Auth.PasswordPepper, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := services.NewTokenService(services.TokenConfig{
		AccessSecret:    cfg.Auth.AccessSecret,
		RefreshSecret:   cfg.Auth.RefreshSecret,
		Issuer:          cfg.Auth.Issuer,
		Audience:        cfg.Auth.Audience,
		AccessTTL:       cfg.Auth.AccessTTL.Duration,
		RefreshTTL:      cfg.Auth.RefreshTTL.Duration,
		VerificationTTL: cfg.Auth.VerificationTTL.Duration,
	})
	if err != nil {
		return err
	}

	authService := services.NewAuthService(
		repositories.NewCentralUserRepo(pool),
		tenantPools,
		credentials,
		tokens,
		services.NewLogNotifier(cfg.Server.PublicURL, !cfg.IsProduction()),
		services.AuthConfig{OperationTimeout: cfg.Auth.OperationTimeout.Duration},
		m,
	)

	provisioner := repositories.NewDatabaseProvisioner(pool, repositories.ConnectWithConfig(pool.Config().ConnConfig))
	provisioningService := services.NewProvisioningService(
		tenantRepo,
		provisioner,
		instrumentedSecrets,
		tenantCache,
		services.ProvisioningConfig{
			DBHost:  cfg.Database.TenantHost,
			DBPort:  cfg.Database.TenantPort,
			Timeout: cfg.Provisioning.Timeout.Duration,
		},
		m,
	)

	e := handlers.NewServer(handlers.Dependencies{
		Auth:         authService,
		Tokens:       tokens,
		Provisioning: provisioningService,
		Tenants:      services.NewTenantService(tenantRepo),
		Resolver:     tenantCache,
		Health:       health,
		Gatherer:     reg,
		BuildVersion: cfg.Version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newSecretStore(cfg *config.Config) (services.SecretStore, error) {
	if cfg.Secrets.Store == config.SecretStoreVault {
		store, err := services.NewVaultSecretStore(services.VaultConfig{
			Address:       cfg.Secrets.VaultAddr,
			Token:         cfg.Secrets.VaultToken,
			Mount:         cfg.Secrets.VaultMount,
			ClientTimeout: 10 * time.Second,
			MaxRetries:    2,
		})
		if err != nil {
			return nil, fmt.Errorf("create vault client: %w", err)
		}
		log.Info().Str("addr", cfg.Secrets.VaultAddr).Str("mount", cfg.Secrets.VaultMount).Msg("Vault secret store initialized")
		return store, nil
	}
	log.Warn().Msg("Using in-memory secret store; tenant credentials are lost on restart")
	return services.NewMemorySecretStore(), nil
}

func redisCheck(client *redis.Client) handlers.HealthCheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
