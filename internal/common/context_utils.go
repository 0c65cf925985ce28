package common

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"clinichub/internal/models"
)

type contextKey string

const TenantKey contextKey = "tenant"

// WithTenant stores the resolved tenant for the rest of the request.
func WithTenant(ctx context.Context, tenant models.TenantContext) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenantFromContext extracts the tenant resolved from the request path
func GetTenantFromContext(ctx context.Context) (models.TenantContext, bool) {
	tenant, ok := ctx.Value(TenantKey).(models.TenantContext)
	return tenant, ok
}

// ValidateRequiredString validates required string fields
func ValidateRequiredString(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return Invalid(fmt.Sprintf("%s is required", fieldName))
	}
	return nil
}

// ValidateEmail checks that value is a bare address ("a@b.c"), not a display form.
func ValidateEmail(value string) error {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return Invalid("Email is invalid")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(value string) error {
	if len(value) < MinPasswordLength {
		return Invalid(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}
	return nil
}

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// ValidatePaginationParams clamps pagination parameters
func ValidatePaginationParams(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// NormalizeEmail lowercases and trims an address before lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
