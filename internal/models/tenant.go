package models

import (
	"strings"
	"time"
)

const (
	databasePrefix = "clinic_"
	roleSuffix     = "_user"
	secretPrefix   = "clinic-db-"

	// MaxSlugLength keeps derived database and role names within the
	// 63-byte PostgreSQL identifier limit.
	MaxSlugLength = 50
)

// Tenant is one organization with its own database.
type Tenant struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// NewTenant builds an unsaved tenant with its slug derived from name.
func NewTenant(name string) *Tenant {
	return &Tenant{Name: name, Slug: Slugify(name)}
}

// Slugify lowercases name and replaces every rune outside [a-z0-9] with '_'.
func Slugify(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DatabaseName returns the name of the tenant's physical database.
func DatabaseName(slug string) string { return databasePrefix + slug }

// RoleName returns the name of the tenant's database login role.
func RoleName(slug string) string { return slug + roleSuffix }

// SecretName returns the secret-store identifier of the tenant's credentials.
func SecretName(slug string) string { return secretPrefix + slug }

func (t *Tenant) DatabaseName() string { return DatabaseName(t.Slug) }
func (t *Tenant) RoleName() string     { return RoleName(t.Slug) }
func (t *Tenant) SecretName() string   { return SecretName(t.Slug) }

// TenantContext is the tenant an inbound request was resolved to.
type TenantContext struct {
	Name string
	Slug string
}

// ProvisioningOutcome describes the resources created for a new tenant.
type ProvisioningOutcome struct {
	Created    bool   `json:"created"`
	DBName     string `json:"dbName"`
	SecretName string `json:"secretName"`
	Message    string `json:"message"`
}
