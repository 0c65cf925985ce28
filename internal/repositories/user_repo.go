package repositories

import (
	"context"

	"clinichub/internal/models"
)

// UserRepository stores credential records for one scope: the central
// registry or a single tenant database.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	// SetRefreshTokenHash overwrites the stored hash unconditionally; nil clears it.
	SetRefreshTokenHash(ctx context.Context, id int64, hash *string) error
	// SwapRefreshTokenHash replaces the stored hash only if it still equals
	// expected. It reports whether the swap happened.
	SwapRefreshTokenHash(ctx context.Context, id int64, expected string, next *string) (bool, error)
}

// CentralUserRepository adds e-mail verification to the central user store.
type CentralUserRepository interface {
	UserRepository
	MarkVerified(ctx context.Context, id int64) error
}

// TenantUserRepositories hands out the user store of a tenant database.
type TenantUserRepositories interface {
	ForTenant(ctx context.Context, slug string) (UserRepository, error)
}

const (
	setRefreshHashQuery = `
		UPDATE users
		SET refresh_token_hash = $1, updated_at = NOW()
		WHERE id = $2
	`
	swapRefreshHashQuery = `
		UPDATE users
		SET refresh_token_hash = $1, updated_at = NOW()
		WHERE id = $2 AND refresh_token_hash = $3
	`
)

func setRefreshTokenHash(ctx context.Context, db DBTX, id int64, hash *string) error {
	tag, err := db.Exec(ctx, setRefreshHashQuery, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func swapRefreshTokenHash(ctx context.Context, db DBTX, id int64, expected string, next *string) (bool, error) {
	tag, err := db.Exec(ctx, swapRefreshHashQuery, next, id, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
