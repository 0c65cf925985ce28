package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinichub/internal/common"
	"clinichub/internal/metrics"
	"clinichub/internal/models"
	"clinichub/internal/repositories"

	"github.com/rs/zerolog/log"
)

// ProvisioningState is the furthest step a provisioning run reached.
type ProvisioningState string

const (
	StatePending         ProvisioningState = "pending"
	StateNameReserved    ProvisioningState = "name_reserved"
	StateDatabaseCreated ProvisioningState = "database_created"
	StateSecretCreated   ProvisioningState = "secret_created"
	StateCommitted       ProvisioningState = "committed"
	StateRolledBack      ProvisioningState = "rolled_back"
)

var (
	ErrDuplicateName              = errors.New("organization name already exists")
	ErrDatabaseProvisioningFailed = errors.New("database provisioning failed")
	ErrSecretProvisioningFailed   = errors.New("secret provisioning failed")
)

const rolePasswordBytes = 24

// ProvisioningError describes a failed provisioning run. Reason is one of
// the provisioning sentinels; RollbackErr is set when compensation did not
// complete cleanly.
type ProvisioningError struct {
	Reason      error
	State       ProvisioningState
	Err         error
	RollbackErr error
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("%v at %s: %v", e.Reason, e.State, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback incomplete: %v)", e.RollbackErr)
	}
	return msg
}

func (e *ProvisioningError) Unwrap() []error {
	return []error{e.Reason, e.Err}
}

// TenantInvalidator drops cached resolution results for a tenant name.
type TenantInvalidator interface {
	Invalidate(ctx context.Context, name string) error
}

type ProvisioningConfig struct {
	// DBHost and DBPort are written into the stored credentials; they are
	// how the application reaches tenant databases.
	DBHost              string
	DBPort              int
	Timeout             time.Duration
	CompensationTimeout time.Duration
}

type ProvisioningService interface {
	CreateTenant(ctx context.Context, name string) (*models.Tenant, *models.ProvisioningOutcome, error)
}

type provisioningService struct {
	tenants     repositories.TenantRepository
	provisioner repositories.DatabaseProvisioner
	secrets     SecretStore
	cache       TenantInvalidator
	cfg         ProvisioningConfig
	metrics     *metrics.Metrics
}

func NewProvisioningService(
	tenants repositories.TenantRepository,
	provisioner repositories.DatabaseProvisioner,
	secrets SecretStore,
	cache TenantInvalidator,
	cfg ProvisioningConfig,
	m *metrics.Metrics,
) ProvisioningService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 30 * time.Second
	}
	return &provisioningService{
		tenants:     tenants,
		provisioner: provisioner,
		secrets:     secrets,
		cache:       cache,
		cfg:         cfg,
		metrics:     m,
	}
}

// ValidateTenantName checks a display name before anything is created.
func ValidateTenantName(name string) error {
	if err := common.ValidateRequiredString(name, "Organization name"); err != nil {
		return err
	}
	slug := models.Slugify(name)
	if strings.Trim(slug, "_") == "" {
		return common.Invalid("Organization name must contain letters or digits")
	}
	if len(slug) > models.MaxSlugLength {
		return common.Invalid(fmt.Sprintf("Organization name must be at most %d characters", models.MaxSlugLength))
	}
	return nil
}

// CreateTenant registers the tenant, creates its database and role, and
// stores the role credentials. Any failure after the registry insert undoes
// the completed steps in reverse order before returning.
func (s *provisioningService) CreateTenant(ctx context.Context, name string) (*models.Tenant, *models.ProvisioningOutcome, error) {
	name = strings.TrimSpace(name)
	if err := ValidateTenantName(name); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	tenant := models.NewTenant(name)
	run := &provisioningRun{svc: s, tenant: tenant, saga: newSaga(tenant.Slug), state: StatePending}
	defer func() {
		s.metrics.Provisioning.WithLabelValues(string(run.state)).Inc()
		s.metrics.ProvisioningDuration.Observe(time.Since(start).Seconds())
	}()

	logger := log.With().Str("tenant", tenant.Name).Str("slug", tenant.Slug).Logger()

	if err := s.tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, repositories.ErrDuplicateTenantName) || errors.Is(err, repositories.ErrDuplicateTenantSlug) {
			logger.Info().Err(err).Msg("Organization name rejected")
			return nil, nil, common.NewError(common.KindConflict, "Organization already exists",
				&ProvisioningError{Reason: ErrDuplicateName, State: StatePending, Err: err})
		}
		return nil, nil, fmt.Errorf("register organization: %w", err)
	}
	run.advance(StateNameReserved)
	run.saga.onRollback("delete registry row", func(ctx context.Context) error {
		return s.tenants.Delete(ctx, tenant.ID)
	})

	password, err := randomPassword()
	if err != nil {
		return nil, nil, run.fail(ctx, ErrDatabaseProvisioningFailed, err)
	}

	dbName, roleName := tenant.DatabaseName(), tenant.RoleName()
	if err := s.provisioner.CreateTenantDatabase(ctx, dbName, roleName, password); err != nil {
		// a pre-existing role or database belongs to someone else and must survive
		if !errors.Is(err, repositories.ErrRoleExists) && !errors.Is(err, repositories.ErrDatabaseExists) {
			run.saga.onRollback("drop partial database", func(ctx context.Context) error {
				return s.provisioner.DropTenantDatabase(ctx, dbName, roleName)
			})
		}
		return nil, nil, run.fail(ctx, ErrDatabaseProvisioningFailed, err)
	}
	run.advance(StateDatabaseCreated)
	run.saga.onRollback("drop database", func(ctx context.Context) error {
		return s.provisioner.DropTenantDatabase(ctx, dbName, roleName)
	})

	creds := &models.DatabaseCredentials{
		Username:     roleName,
		Password:     password,
		Host:         s.cfg.DBHost,
		Port:         s.cfg.DBPort,
		DatabaseName: dbName,
		Engine:       models.EnginePostgres,
	}
	secretName := tenant.SecretName()
	meta, err := s.secrets.CreateSecret(ctx, secretName, creds)
	if err != nil {
		if !errors.Is(err, ErrSecretExists) {
			run.saga.onRollback("delete partial secret", func(ctx context.Context) error {
				return s.secrets.DeleteSecret(ctx, secretName)
			})
		}
		return nil, nil, run.fail(ctx, ErrSecretProvisioningFailed, err)
	}
	run.advance(StateSecretCreated)

	if err := s.cache.Invalidate(ctx, tenant.Name); err != nil {
		logger.Warn().Err(err).Msg("Failed to invalidate tenant cache after provisioning")
	}
	run.advance(StateCommitted)

	logger.Info().
		Int64("tenant_id", tenant.ID).
		Str("database", dbName).
		Str("secret", secretName).
		Str("secret_version", meta.Version).
		Dur("elapsed", time.Since(start)).
		Msg("Organization provisioned")

	return tenant, &models.ProvisioningOutcome{
		Created:    true,
		DBName:     dbName,
		SecretName: secretName,
		Message:    "Organization database provisioned",
	}, nil
}

type provisioningRun struct {
	svc    *provisioningService
	tenant *models.Tenant
	saga   *saga
	state  ProvisioningState
}

func (r *provisioningRun) advance(state ProvisioningState) {
	r.state = state
}

// fail rolls back on a context detached from the request so that an expired
// deadline does not stop compensation.
func (r *provisioningRun) fail(ctx context.Context, reason, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(cause, ctxErr) {
		cause = fmt.Errorf("%w (%w)", cause, ctxErr)
	}
	failedAt := r.state

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.svc.cfg.CompensationTimeout)
	defer cancel()
	rollbackErr := r.saga.rollback(rbCtx)
	r.state = StateRolledBack

	provErr := &ProvisioningError{Reason: reason, State: failedAt, Err: cause, RollbackErr: rollbackErr}
	event := log.Error().Err(cause).Str("tenant", r.tenant.Name).Str("failed_at", string(failedAt))
	if rollbackErr != nil {
		event = event.AnErr("rollback_error", rollbackErr)
	}
	event.Msg("Organization provisioning rolled back")

	msg := "Failed to provision organization database"
	if errors.Is(reason, ErrSecretProvisioningFailed) {
		msg = "Failed to store organization credentials"
	}
	return common.NewError(common.KindProvisioningFailed, msg, provErr)
}

func randomPassword() (string, error) {
	buf := make([]byte, rolePasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate role password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
