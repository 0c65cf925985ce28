package repositories

import (
	"context"
	"errors"
	"fmt"

	"clinichub/internal/models"

	"github.com/jackc/pgx/v5"
)

type centralUserRepo struct {
	db DBTX
}

func NewCentralUserRepo(db DBTX) CentralUserRepository {
	return &centralUserRepo{db: db}
}

const centralUserColumns = `id, email, name, password_hash, refresh_token_hash, is_verified, created_at, updated_at`

func (r *centralUserRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, name, password_hash, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, user.Email, user.Name, user.PasswordHash, user.Verified).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if _, dup := isUniqueViolation(err); dup {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert central user: %w", err)
	}
	return nil
}

func (r *centralUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+centralUserColumns+` FROM users WHERE email = $1`, email)
}

func (r *centralUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+centralUserColumns+` FROM users WHERE id = $1`, id)
}

func (r *centralUserRepo) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.RefreshTokenHash,
		&user.Verified, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *centralUserRepo) SetRefreshTokenHash(ctx context.Context, id int64, hash *string) error {
	return setRefreshTokenHash(ctx, r.db, id, hash)
}

func (r *centralUserRepo) SwapRefreshTokenHash(ctx context.Context, id int64, expected string, next *string) (bool, error) {
	return swapRefreshTokenHash(ctx, r.db, id, expected, next)
}

func (r *centralUserRepo) MarkVerified(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
