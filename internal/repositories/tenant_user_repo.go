package repositories

import (
	"context"
	"errors"
	"fmt"

	"clinichub/internal/models"

	"github.com/jackc/pgx/v5"
)

type tenantUserRepo struct {
	db DBTX
}

// NewTenantUserRepo returns the user store of one tenant database.
func NewTenantUserRepo(db DBTX) UserRepository {
	return &tenantUserRepo{db: db}
}

const tenantUserSelect = `
	SELECT u.id, u.email, u.name, u.password_hash, u.refresh_token_hash,
		a.id, d.id, p.id, u.created_at, u.updated_at
	FROM users u
	LEFT JOIN admins a ON a.user_id = u.id
	LEFT JOIN doctors d ON d.user_id = u.id
	LEFT JOIN patients p ON p.user_id = u.id
`

var profileInserts = map[models.Role]string{
	models.RoleAdmin:   `INSERT INTO admins (user_id) VALUES ($1)`,
	models.RoleDoctor:  `INSERT INTO doctors (user_id) VALUES ($1)`,
	models.RolePatient: `INSERT INTO patients (user_id) VALUES ($1)`,
}

// Create inserts the user and, for an assigned role, its profile row in one
// transaction.
func (r *tenantUserRepo) Create(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleUnassigned
	}
	profileInsert, hasProfile := profileInserts[user.Role]
	if !hasProfile && user.Role != models.RoleUnassigned {
		return fmt.Errorf("unknown role %q", user.Role)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tenant user insert: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, user.Email, user.Name, user.PasswordHash).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		if _, dup := isUniqueViolation(err); dup {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert tenant user: %w", err)
	}

	if hasProfile {
		if _, err := tx.Exec(ctx, profileInsert, user.ID); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert %s profile: %w", user.Role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tenant user insert: %w", err)
	}
	// tenant users have no e-mail verification step
	user.Verified = true
	return nil
}

func (r *tenantUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, tenantUserSelect+` WHERE u.email = $1`, email)
}

func (r *tenantUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, tenantUserSelect+` WHERE u.id = $1`, id)
}

func (r *tenantUserRepo) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{Verified: true}
	var adminID, doctorID, patientID *int64
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.RefreshTokenHash,
		&adminID, &doctorID, &patientID, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	role, err := models.RoleFromProfiles(adminID, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %d: %v", ErrInconsistentProfiles, user.ID, err)
	}
	user.Role = role
	return user, nil
}

func (r *tenantUserRepo) SetRefreshTokenHash(ctx context.Context, id int64, hash *string) error {
	return setRefreshTokenHash(ctx, r.db, id, hash)
}

func (r *tenantUserRepo) SwapRefreshTokenHash(ctx context.Context, id int64, expected string, next *string) (bool, error) {
	return swapRefreshTokenHash(ctx, r.db, id, expected, next)
}
