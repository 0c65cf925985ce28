package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when a password or refresh secret does not
// match its stored hash.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialService hashes and verifies passwords and refresh secrets.
type CredentialService interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hash, password string) error
	HashRefreshSecret(secret string) (string, error)
	VerifyRefreshSecret(hash, secret string) error
	// BurnPasswordCheck performs a password comparison against a fixed hash
	// so that unknown accounts take as long as known ones.
	BurnPasswordCheck(password string)
}

type credentialService struct {
	pepper    []byte
	cost      int
	dummyHash []byte
}

// NewCredentialService uses bcrypt at the given cost. Passwords are mixed
// with pepper through HMAC-SHA256 before hashing.
func NewCredentialService(pepper string, cost int) (CredentialService, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	s := &credentialService{pepper: []byte(pepper), cost: cost}

	dummy, err := bcrypt.GenerateFromPassword(s.peppered("not-a-real-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// peppered keeps the bcrypt input at 44 bytes, below its 72-byte limit.
// An empty pepper is a valid HMAC key.
func (s *credentialService) peppered(password string) []byte {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func (s *credentialService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(s.peppered(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *credentialService) VerifyPassword(hash, password string) error {
	return compare(hash, s.peppered(password))
}

func (s *credentialService) HashRefreshSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash refresh secret: %w", err)
	}
	return string(hash), nil
}

func (s *credentialService) VerifyRefreshSecret(hash, secret string) error {
	return compare(hash, []byte(secret))
}

func (s *credentialService) BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, s.peppered(password))
}

func compare(hash string, plain []byte) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), plain)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrInvalidCredentials
	default:
		// corrupt or foreign hash format
		return fmt.Errorf("compare hash: %w", err)
	}
}
