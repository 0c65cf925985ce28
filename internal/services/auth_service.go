package services

import (
	"context"
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

const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidToken       = "Invalid or expired token"
)

var errRefreshTokenReused = errors.New("refresh token already rotated or revoked")

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUserRequest is used by tenant admins to add users with a role.
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// AuthService runs the login, registration and token rotation flows for
// both central and tenant users.
type AuthService interface {
	LoginCentral(ctx context.Context, req *LoginRequest) (*models.TokenResponse, error)
	LoginTenant(ctx context.Context, slug string, req *LoginRequest) (*models.TokenResponse, error)
	RegisterCentral(ctx context.Context, req *RegisterRequest) (*models.UserSummary, error)
	VerifyEmail(ctx context.Context, token string) (*models.UserSummary, error)
	RegisterTenant(ctx context.Context, slug string, req *RegisterRequest) (*models.UserSummary, error)
	CreateTenantUser(ctx context.Context, slug string, req *CreateUserRequest) (*models.UserSummary, error)
	Refresh(ctx context.Context, scope models.Scope, slug, refreshToken string) (*models.TokenResponse, error)
	Logout(ctx context.Context, payload *TokenPayload) error
	Me(ctx context.Context, payload *TokenPayload) (*models.UserSummary, error)
	RoleOf(ctx context.Context, payload *TokenPayload) (models.Role, error)
}

type AuthConfig struct {
	OperationTimeout time.Duration
}

type authService struct {
	central     repositories.CentralUserRepository
	tenants     repositories.TenantUserRepositories
	credentials CredentialService
	tokens      TokenService
	notifier    Notifier
	cfg         AuthConfig
	metrics     *metrics.Metrics
}

func NewAuthService(
	central repositories.CentralUserRepository,
	tenants repositories.TenantUserRepositories,
	credentials CredentialService,
	tokens TokenService,
	notifier Notifier,
	cfg AuthConfig,
	m *metrics.Metrics,
) AuthService {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	return &authService{
		central:     central,
		tenants:     tenants,
		credentials: credentials,
		tokens:      tokens,
		notifier:    notifier,
		cfg:         cfg,
		metrics:     m,
	}
}

func (s *authService) record(flow string, scope models.Scope, err error) {
	result := "ok"
	if err != nil {
		result = string(common.KindOf(err))
	}
	s.metrics.AuthAttempts.WithLabelValues(flow, string(scope), result).Inc()
}

func (s *authService) store(ctx context.Context, scope models.Scope, slug string) (repositories.UserRepository, error) {
	if scope == models.ScopeCentral {
		return s.central, nil
	}
	repo, err := s.tenants.ForTenant(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("open tenant %s: %w", slug, err)
	}
	return repo, nil
}

func invalidCredentials() error {
	return common.Unauthenticated(msgInvalidCredentials, ErrInvalidCredentials)
}

func invalidToken(err error) error {
	return common.Unauthenticated(msgInvalidToken, err)
}

func (s *authService) LoginCentral(ctx context.Context, req *LoginRequest) (resp *models.TokenResponse, err error) {
	defer func() { s.record("login", models.ScopeCentral, err) }()
	return s.login(ctx, models.ScopeCentral, "", req)
}

func (s *authService) LoginTenant(ctx context.Context, slug string, req *LoginRequest) (resp *models.TokenResponse, err error) {
	defer func() { s.record("login", models.ScopeTenant, err) }()
	return s.login(ctx, models.ScopeTenant, slug, req)
}

func (s *authService) login(ctx context.Context, scope models.Scope, slug string, req *LoginRequest) (*models.TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	email := common.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, common.Invalid("Email and password are required")
	}

	repo, err := s.store(ctx, scope, slug)
	if err != nil {
		return nil, err
	}

	user, err := repo.GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		s.credentials.BurnPasswordCheck(req.Password)
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := s.credentials.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, invalidCredentials()
		}
		return nil, err
	}

	if scope == models.ScopeCentral && !user.Verified {
		return nil, common.NewError(common.KindForbidden, "Email not verified", nil)
	}

	payload := CentralPayload(user)
	if scope == models.ScopeTenant {
		payload = TenantPayload(user, slug)
	}
	pair, err := s.issueSession(ctx, repo, user, payload)
	if err != nil {
		return nil, err
	}
	return s.response(pair, user, payload), nil
}

// issueSession mints a token pair and replaces the stored refresh hash.
func (s *authService) issueSession(ctx context.Context, repo repositories.UserRepository, user *models.User, payload *TokenPayload) (*models.TokenPair, error) {
	pair, err := s.tokens.IssueTokenPair(payload)
	if err != nil {
		return nil, err
	}
	hash, err := s.credentials.HashRefreshSecret(pair.RefreshSecret)
	if err != nil {
		return nil, err
	}
	if err := repo.SetRefreshTokenHash(ctx, user.ID, &hash); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

func (s *authService) response(pair *models.TokenPair, user *models.User, payload *TokenPayload) *models.TokenResponse {
	summary := user.CentralSummary()
	if payload.Scope == models.ScopeTenant {
		summary = user.TenantSummary(payload.TenantSlug)
	}
	return &models.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		User:         summary,
	}
}

// Refresh rotates a refresh token. The stored hash is replaced with a
// conditional update, so of several concurrent refreshes presenting the same
// token exactly one succeeds.
func (s *authService) Refresh(ctx context.Context, scope models.Scope, slug, refreshToken string) (resp *models.TokenResponse, err error) {
	defer func() { s.record("refresh", scope, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if strings.TrimSpace(refreshToken) == "" {
		return nil, common.Invalid("Refresh token is required")
	}
	token, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		return nil, invalidToken(err)
	}
	payload, err := s.tokens.VerifyRefreshToken(token)
	if err != nil {
		log.Debug().Err(err).Str("scope", string(scope)).Msg("Refresh token rejected")
		return nil, invalidToken(err)
	}
	if err := payload.RequireScope(scope); err != nil {
		return nil, invalidToken(err)
	}
	if scope == models.ScopeTenant {
		if err := payload.RequireTenant(slug); err != nil {
			log.Warn().Str("token_tenant", payload.TenantSlug).Str("tenant", slug).Msg("Refresh token presented to another tenant")
			return nil, invalidToken(err)
		}
	}

	repo, err := s.store(ctx, scope, slug)
	if err != nil {
		return nil, err
	}
	user, err := repo.GetByID(ctx, payload.UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, invalidToken(err)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.RefreshTokenHash == nil {
		return nil, invalidToken(errRefreshTokenReused)
	}
	current := *user.RefreshTokenHash
	if err := s.credentials.VerifyRefreshSecret(current, secret); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, invalidToken(errRefreshTokenReused)
		}
		return nil, err
	}

	next := CentralPayload(user)
	if scope == models.ScopeTenant {
		next = TenantPayload(user, slug)
	}
	pair, err := s.tokens.IssueTokenPair(next)
	if err != nil {
		return nil, err
	}
	nextHash, err := s.credentials.HashRefreshSecret(pair.RefreshSecret)
	if err != nil {
		return nil, err
	}
	swapped, err := repo.SwapRefreshTokenHash(ctx, user.ID, current, &nextHash)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !swapped {
		log.Info().Int64("user_id", user.ID).Str("scope", string(scope)).Msg("Concurrent refresh lost rotation race")
		return nil, invalidToken(errRefreshTokenReused)
	}
	return s.response(pair, user, next), nil
}

// Logout revokes the refresh token of the authenticated user.
func (s *authService) Logout(ctx context.Context, payload *TokenPayload) (err error) {
	defer func() { s.record("logout", payload.Scope, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	repo, err := s.store(ctx, payload.Scope, payload.TenantSlug)
	if err != nil {
		return err
	}
	err = repo.SetRefreshTokenHash(ctx, payload.UserID, nil)
	if errors.Is(err, repositories.ErrNotFound) {
		return invalidToken(err)
	}
	return err
}

func (s *authService) loadCurrent(ctx context.Context, payload *TokenPayload) (*models.User, error) {
	repo, err := s.store(ctx, payload.Scope, payload.TenantSlug)
	if err != nil {
		return nil, err
	}
	user, err := repo.GetByID(ctx, payload.UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, common.NewError(common.KindNotFound, "User not found", err)
	}
	return user, err
}

func (s *authService) Me(ctx context.Context, payload *TokenPayload) (*models.UserSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	user, err := s.loadCurrent(ctx, payload)
	if err != nil {
		return nil, err
	}
	if payload.Scope == models.ScopeTenant {
		return user.TenantSummary(payload.TenantSlug), nil
	}
	return user.CentralSummary(), nil
}

// RoleOf returns the current role of a tenant user. Central users have none.
func (s *authService) RoleOf(ctx context.Context, payload *TokenPayload) (models.Role, error) {
	if payload.Scope != models.ScopeTenant {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	user, err := s.loadCurrent(ctx, payload)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

func validateRegistration(req *RegisterRequest) error {
	if err := common.ValidateRequiredString(req.Name, "Name"); err != nil {
		return err
	}
	if err := common.ValidateEmail(common.NormalizeEmail(req.Email)); err != nil {
		return err
	}
	return common.ValidatePassword(req.Password)
}

func (s *authService) newUser(req *RegisterRequest) (*models.User, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}
	hash, err := s.credentials.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	return &models.User{
		Email:        common.NormalizeEmail(req.Email),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	}, nil
}

func emailConflict(err error) error {
	if errors.Is(err, repositories.ErrDuplicateEmail) {
		return common.NewError(common.KindConflict, "Email already registered", err)
	}
	return err
}

// RegisterCentral creates an unverified central user and sends the
// verification token through the notifier.
func (s *authService) RegisterCentral(ctx context.Context, req *RegisterRequest) (summary *models.UserSummary, err error) {
	defer func() { s.record("register", models.ScopeCentral, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	user, err := s.newUser(req)
	if err != nil {
		return nil, err
	}
	if err := s.central.Create(ctx, user); err != nil {
		return nil, emailConflict(err)
	}

	token, err := s.tokens.IssueVerificationToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.SendVerification(ctx, user.Email, token); err != nil {
		// the user can request another token; registration itself succeeded
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to send verification email")
	}
	return user.CentralSummary(), nil
}

func (s *authService) VerifyEmail(ctx context.Context, token string) (summary *models.UserSummary, err error) {
	defer func() { s.record("verify", models.ScopeCentral, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if token == "" {
		return nil, common.Invalid("Verification token is required")
	}
	payload, err := s.tokens.VerifyVerificationToken(token)
	if err != nil {
		return nil, common.Unauthenticated("Invalid or expired verification token", err)
	}
	if err := s.central.MarkVerified(ctx, payload.UserID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.NewError(common.KindNotFound, "User not found", err)
		}
		return nil, err
	}
	user, err := s.central.GetByID(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	return user.CentralSummary(), nil
}

// RegisterTenant self-registers a tenant user without a role.
func (s *authService) RegisterTenant(ctx context.Context, slug string, req *RegisterRequest) (summary *models.UserSummary, err error) {
	defer func() { s.record("register", models.ScopeTenant, err) }()
	return s.createTenantUser(ctx, slug, req, models.RoleUnassigned)
}

// CreateTenantUser adds a user with the requested role. Callers must have
// checked that the requester is a tenant admin.
func (s *authService) CreateTenantUser(ctx context.Context, slug string, req *CreateUserRequest) (summary *models.UserSummary, err error) {
	defer func() { s.record("create_user", models.ScopeTenant, err) }()

	role, err := models.ParseRole(req.Role)
	if err != nil {
		return nil, common.Invalid("Role must be one of admin, doctor, patient, unassigned")
	}
	return s.createTenantUser(ctx, slug, &RegisterRequest{Name: req.Name, Email: req.Email, Password: req.Password}, role)
}

func (s *authService) createTenantUser(ctx context.Context, slug string, req *RegisterRequest, role models.Role) (*models.UserSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	user, err := s.newUser(req)
	if err != nil {
		return nil, err
	}
	user.Role = role

	repo, err := s.store(ctx, models.ScopeTenant, slug)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, user); err != nil {
		return nil, emailConflict(err)
	}
	return user.TenantSummary(slug), nil
}
