package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clinichub/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenMalformed     = errors.New("token malformed")
	ErrWrongScope         = errors.New("token has wrong scope")
	ErrMissingTenant      = errors.New("tenant token without tenant slug")
	ErrTenantMismatch     = errors.New("token issued for another tenant")
	ErrRefreshTokenFormat = errors.New("refresh token format invalid")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	tokenTypeVerify  = "verify"

	refreshSecretBytes = 32
)

// TokenConfig configures signing keys and lifetimes.
type TokenConfig struct {
	AccessSecret    string
	RefreshSecret   string
	Issuer          string
	Audience        string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TokenPayload is the identity carried inside every signed token.
type TokenPayload struct {
	Scope      models.Scope
	UserID     int64
	Email      string
	Name       string
	TenantSlug string
	TokenID    string
	ExpiresAt  time.Time
}

// CentralPayload builds the payload for a central-scope user.
func CentralPayload(user *models.User) *TokenPayload {
	return &TokenPayload{Scope: models.ScopeCentral, UserID: user.ID, Email: user.Email, Name: user.Name}
}

// TenantPayload builds the payload for a user of the tenant identified by slug.
func TenantPayload(user *models.User, slug string) *TokenPayload {
	return &TokenPayload{Scope: models.ScopeTenant, UserID: user.ID, Email: user.Email, Name: user.Name, TenantSlug: slug}
}

// RequireScope rejects payloads of any other scope.
func (p *TokenPayload) RequireScope(scope models.Scope) error {
	if p.Scope != scope {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongScope, p.Scope, scope)
	}
	return nil
}

// RequireTenant rejects tenant payloads issued for a different tenant.
func (p *TokenPayload) RequireTenant(slug string) error {
	if err := p.RequireScope(models.ScopeTenant); err != nil {
		return err
	}
	if p.TenantSlug != slug {
		return ErrTenantMismatch
	}
	return nil
}

type tokenClaims struct {
	Type       string       `json:"typ"`
	Scope      models.Scope `json:"scope,omitempty"`
	UserID     int64        `json:"userId"`
	Email      string       `json:"email"`
	Name       string       `json:"name,omitempty"`
	TenantSlug string       `json:"tenantSlug,omitempty"`
	jwt.RegisteredClaims
}

type TokenService interface {
	IssueAccessToken(payload *TokenPayload) (string, time.Time, error)
	IssueRefreshToken(payload *TokenPayload) (token, secret string, expiresAt time.Time, err error)
	IssueTokenPair(payload *TokenPayload) (*models.TokenPair, error)
	VerifyAccessToken(token string) (*TokenPayload, error)
	VerifyRefreshToken(token string) (*TokenPayload, error)
	IssueVerificationToken(userID int64, email string) (string, error)
	VerifyVerificationToken(token string) (*TokenPayload, error)
	AccessTTL() time.Duration
}

type tokenService struct {
	cfg        TokenConfig
	accessKey  []byte
	refreshKey []byte
}

func NewTokenService(cfg TokenConfig) (TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh signing secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh signing secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &tokenService{
		cfg:        cfg,
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
	}, nil
}

func (s *tokenService) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

func (s *tokenService) sign(typ string, payload *TokenPayload, key []byte, ttl time.Duration) (string, time.Time, error) {
	now := s.cfg.Now()
	expiresAt := now.Add(ttl)
	claims := tokenClaims{
		Type:       typ,
		Scope:      payload.Scope,
		UserID:     payload.UserID,
		Email:      payload.Email,
		Name:       payload.Name,
		TenantSlug: payload.TenantSlug,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   strconv.FormatInt(payload.UserID, 10),
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, expiresAt, nil
}

func (s *tokenService) IssueAccessToken(payload *TokenPayload) (string, time.Time, error) {
	return s.sign(tokenTypeAccess, payload, s.accessKey, s.cfg.AccessTTL)
}

func (s *tokenService) IssueRefreshToken(payload *TokenPayload) (string, string, time.Time, error) {
	token, expiresAt, err := s.sign(tokenTypeRefresh, payload, s.refreshKey, s.cfg.RefreshTTL)
	if err != nil {
		return "", "", time.Time{}, err
	}
	secret, err := newRefreshSecret()
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, secret, expiresAt, nil
}

// IssueTokenPair mints an access token and a combined refresh token.
func (s *tokenService) IssueTokenPair(payload *TokenPayload) (*models.TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(payload)
	if err != nil {
		return nil, err
	}
	refresh, secret, refreshExp, err := s.IssueRefreshToken(payload)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh + "." + secret,
		RefreshSecret:    secret,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *tokenService) VerifyAccessToken(token string) (*TokenPayload, error) {
	return s.verify(token, tokenTypeAccess, s.accessKey)
}

func (s *tokenService) VerifyRefreshToken(token string) (*TokenPayload, error) {
	return s.verify(token, tokenTypeRefresh, s.refreshKey)
}

func (s *tokenService) IssueVerificationToken(userID int64, email string) (string, error) {
	payload := &TokenPayload{Scope: models.ScopeCentral, UserID: userID, Email: email}
	token, _, err := s.sign(tokenTypeVerify, payload, s.accessKey, s.cfg.VerificationTTL)
	return token, err
}

func (s *tokenService) VerifyVerificationToken(token string) (*TokenPayload, error) {
	return s.verify(token, tokenTypeVerify, s.accessKey)
}

func (s *tokenService) verify(token, typ string, key []byte) (*TokenPayload, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenMalformed, typ, claims.Type)
	}

	switch claims.Scope {
	case models.ScopeCentral:
		if claims.TenantSlug != "" {
			return nil, fmt.Errorf("%w: central token carries a tenant", ErrTokenMalformed)
		}
	case models.ScopeTenant:
		if claims.TenantSlug == "" {
			return nil, ErrMissingTenant
		}
	case "":
		return nil, fmt.Errorf("%w: missing scope", ErrTokenMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", ErrWrongScope, claims.Scope)
	}

	payload := &TokenPayload{
		Scope:      claims.Scope,
		UserID:     claims.UserID,
		Email:      claims.Email,
		Name:       claims.Name,
		TenantSlug: claims.TenantSlug,
		TokenID:    claims.ID,
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}

// SplitRefreshToken separates "<jwt>.<secret>" into its two halves.
func SplitRefreshToken(combined string) (string, string, error) {
	parts := strings.Split(combined, ".")
	if len(parts) != 4 {
		return "", "", ErrRefreshTokenFormat
	}
	for _, part := range parts {
		if part == "" {
			return "", "", ErrRefreshTokenFormat
		}
	}
	return strings.Join(parts[:3], "."), parts[3], nil
}

func newRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
