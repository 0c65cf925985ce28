package models

import (
	"fmt"
	"time"
)

// Role is the tenant-scoped role of a user. Central users carry no role.
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleAdmin      Role = "admin"
	RoleDoctor     Role = "doctor"
	RolePatient    Role = "patient"
)

// ParseRole accepts the three assignable roles and "unassigned".
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleDoctor, RolePatient, RoleUnassigned:
		return r, nil
	case "":
		return RoleUnassigned, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleFromProfiles derives the role from the profile rows linked to a user.
// A user may have at most one profile.
func RoleFromProfiles(adminID, doctorID, patientID *int64) (Role, error) {
	role := RoleUnassigned
	n := 0
	if adminID != nil {
		role, n = RoleAdmin, n+1
	}
	if doctorID != nil {
		role, n = RoleDoctor, n+1
	}
	if patientID != nil {
		role, n = RolePatient, n+1
	}
	if n > 1 {
		return "", fmt.Errorf("user has %d role profiles", n)
	}
	return role, nil
}

// User is a credential record, either central or tenant scoped.
type User struct {
	ID               int64     `json:"id" db:"id"`
	Email            string    `json:"email" db:"email"`
	Name             string    `json:"name" db:"name"`
	PasswordHash     string    `json:"-" db:"password_hash"` // Never serialize in JSON
	RefreshTokenHash *string   `json:"-" db:"refresh_token_hash"`
	Verified         bool      `json:"isVerified" db:"is_verified"`
	Role             Role      `json:"role,omitempty" db:"-"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// UserSummary is the user representation returned to clients.
type UserSummary struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Verified   *bool  `json:"isVerified,omitempty"`
	Role       Role   `json:"role,omitempty"`
	TenantSlug string `json:"tenantSlug,omitempty"`
}

// CentralSummary strips credential fields from a central user.
func (u *User) CentralSummary() *UserSummary {
	verified := u.Verified
	return &UserSummary{ID: u.ID, Email: u.Email, Name: u.Name, Verified: &verified}
}

// TenantSummary strips credential fields from a tenant user.
func (u *User) TenantSummary(slug string) *UserSummary {
	return &UserSummary{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, TenantSlug: slug}
}
