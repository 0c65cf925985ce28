package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinichub/internal/models"

	"github.com/jackc/pgx/v5"
)

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	Delete(ctx context.Context, id int64) error
	GetByName(ctx context.Context, name string) (*models.Tenant, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.Tenant, error)
}

type tenantRepo struct {
	db DBTX
}

func NewTenantRepo(db DBTX) TenantRepository {
	return &tenantRepo{db: db}
}

// Create inserts the tenant row in its own transaction. A name or slug that
// is already registered yields ErrDuplicateTenantName or ErrDuplicateTenantSlug.
func (r *tenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tenant insert: %w", err)
	}

	if err := insertTenant(ctx, tx, tenant); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			return duplicateTenantError(pgErr.ConstraintName)
		}
		return fmt.Errorf("commit tenant insert: %w", err)
	}
	return nil
}

func insertTenant(ctx context.Context, tx pgx.Tx, tenant *models.Tenant) error {
	var existingName, existingSlug string
	err := tx.QueryRow(ctx, `
		SELECT name, slug
		FROM tenant
		WHERE name = $1 OR slug = $2
		LIMIT 1
	`, tenant.Name, tenant.Slug).Scan(&existingName, &existingSlug)
	switch {
	case err == nil:
		if existingName == tenant.Name {
			return ErrDuplicateTenantName
		}
		return ErrDuplicateTenantSlug
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("check tenant uniqueness: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO tenant (name, slug, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, tenant.Name, tenant.Slug).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		// a concurrent insert can still win between the check and the insert
		if pgErr, ok := isUniqueViolation(err); ok {
			return duplicateTenantError(pgErr.ConstraintName)
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func duplicateTenantError(constraint string) error {
	if strings.Contains(constraint, "slug") {
		return ErrDuplicateTenantSlug
	}
	return ErrDuplicateTenantName
}

// Delete removes the tenant row. Deleting a missing row is not an error.
func (r *tenantRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM tenant WHERE id = $1`, id)
	return err
}

func (r *tenantRepo) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	query := `
		SELECT id, name, slug, created_at, updated_at
		FROM tenant
		WHERE name = $1
	`
	err := r.db.QueryRow(ctx, query, name).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

func (r *tenantRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenant WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

func (r *tenantRepo) List(ctx context.Context, limit, offset int) ([]*models.Tenant, error) {
	query := `
		SELECT id, name, slug, created_at, updated_at
		FROM tenant
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []*models.Tenant{}
	for rows.Next() {
		tenant := &models.Tenant{}
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}
