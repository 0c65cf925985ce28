package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"clinichub/internal/caching"
	"clinichub/internal/metrics"
	"clinichub/internal/models"
	"clinichub/internal/repositories"
	"clinichub/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// memTenantRepo is an in-memory tenant registry.
type memTenantRepo struct {
	mu      sync.Mutex
	nextID  int64
	tenants map[string]*models.Tenant
}

func (r *memTenantRepo) Create(_ context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Name == tenant.Name {
			return repositories.ErrDuplicateTenantName
		}
		if t.Slug == tenant.Slug {
			return repositories.ErrDuplicateTenantSlug
		}
	}
	r.nextID++
	tenant.ID = r.nextID
	tenant.CreatedAt = time.Now()
	tenant.UpdatedAt = tenant.CreatedAt
	stored := *tenant
	r.tenants[tenant.Name] = &stored
	return nil
}

func (r *memTenantRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.tenants {
		if t.ID == id {
			delete(r.tenants, name)
		}
	}
	return nil
}

func (r *memTenantRepo) GetByName(_ context.Context, name string) (*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[name]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *memTenantRepo) ExistsByName(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tenants[name]
	return ok, nil
}

func (r *memTenantRepo) List(_ context.Context, limit, offset int) ([]*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*models.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		c := *t
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return []*models.Tenant{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// memProvisioner records which tenant databases exist.
type memProvisioner struct {
	mu        sync.Mutex
	databases map[string]string
}

func (p *memProvisioner) CreateTenantDatabase(_ context.Context, dbName, roleName, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.databases[dbName]; ok {
		return repositories.ErrDatabaseExists
	}
	p.databases[dbName] = roleName
	return nil
}

func (p *memProvisioner) DropTenantDatabase(_ context.Context, dbName, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.databases, dbName)
	return nil
}

// memUserRepo is an in-memory user store with a conditional refresh swap.
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[int64]*models.User{}}
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repositories.ErrDuplicateEmail
		}
	}
	if user.Role == "" {
		user.Role = models.RoleUnassigned
	}
	r.nextID++
	user.ID = r.nextID
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUserRepo) SetRefreshTokenHash(_ context.Context, id int64, hash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.RefreshTokenHash = hash
	return nil
}

func (r *memUserRepo) SwapRefreshTokenHash(_ context.Context, id int64, expected string, next *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.RefreshTokenHash == nil || *u.RefreshTokenHash != expected {
		return false, nil
	}
	u.RefreshTokenHash = next
	return true, nil
}

func (r *memUserRepo) MarkVerified(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.Verified = true
	return nil
}

// memTenantPools opens a tenant user store only once its credentials have
// been stored, the way the pgx pools do.
type memTenantPools struct {
	secrets services.SecretStore
	mu      sync.Mutex
	repos   map[string]*memUserRepo
}

func (p *memTenantPools) ForTenant(ctx context.Context, slug string) (repositories.UserRepository, error) {
	creds, err := p.secrets.GetSecret(ctx, models.SecretName(slug))
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	repo, ok := p.repos[creds.DatabaseName]
	if !ok {
		repo = newMemUserRepo()
		p.repos[creds.DatabaseName] = repo
	}
	return repo, nil
}

type capturingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *capturingNotifier) SendVerification(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[email] = token
	return nil
}

func (n *capturingNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type RoutesTestSuite struct {
	suite.Suite
	server      *echo.Echo
	registry    *memTenantRepo
	provisioner *memProvisioner
	notifier    *capturingNotifier
}

func (suite *RoutesTestSuite) SetupTest() {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	suite.registry = &memTenantRepo{tenants: map[string]*models.Tenant{}}
	suite.provisioner = &memProvisioner{databases: map[string]string{}}
	suite.notifier = &capturingNotifier{tokens: map[string]string{}}
	secrets := services.NewSecretStoreMetrics(m, services.NewMemorySecretStore())
	cache := caching.NewTenantCache(suite.registry, caching.NewMemoryStore(), time.Minute, m)

	credentials, err := services.NewCredentialService("pepper", 4)
	require.NoError(suite.T(), err)
	tokens, err := services.NewTokenService(services.TokenConfig{
		AccessSecret:    "access-secret-for-tests",
		RefreshSecret:   "refresh-secret-for-tests",
		Issuer:          "clinichub",
		Audience:        "clinichub-api",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		VerificationTTL: time.Hour,
	})
	require.NoError(suite.T(), err)

	pools := &memTenantPools{secrets: secrets, repos: map[string]*memUserRepo{}}
	auth := services.NewAuthService(newMemUserRepo(), pools, credentials, tokens, suite.notifier, services.AuthConfig{}, m)
	provisioning := services.NewProvisioningService(suite.registry, suite.provisioner, secrets, cache,
		services.ProvisioningConfig{DBHost: "localhost", DBPort: 5432}, m)

	health := NewHealthHandlers("test").
		AddCheck("database", true, func(context.Context) error { return nil })

	suite.server = NewServer(Dependencies{
		Auth:         auth,
		Tokens:       tokens,
		Provisioning: provisioning,
		Tenants:      services.NewTenantService(suite.registry),
		Resolver:     cache,
		Health:       health,
		Gatherer:     reg,
		BuildVersion: "test",
	})
}

func TestRoutesTestSuite(t *testing.T) {
	suite.Run(t, new(RoutesTestSuite))
}

func (suite *RoutesTestSuite) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		payload = string(raw)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	suite.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (suite *RoutesTestSuite) assertError(rec *httptest.ResponseRecorder, status int, msg string) {
	assert.Equal(suite.T(), status, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), msg, decode[ErrorResponse](suite.T(), rec).Error)
}

// centralSession registers, verifies and logs in a central user.
func (suite *RoutesTestSuite) centralSession(email string) *models.TokenResponse {
	rec := suite.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Owner", "email": email, "password": "correct-horse",
	})
	require.Equal(suite.T(), http.StatusCreated, rec.Code, rec.Body.String())

	rec = suite.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "correct-horse"})
	suite.assertError(rec, http.StatusForbidden, "Email not verified")

	token := suite.notifier.token(email)
	require.NotEmpty(suite.T(), token)
	rec = suite.do(http.MethodGet, "/auth/verify?token="+token, "", nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())

	rec = suite.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "correct-horse"})
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	return decode[*models.TokenResponse](suite.T(), rec)
}

func (suite *RoutesTestSuite) createOrganization(token, name string) *httptest.ResponseRecorder {
	return suite.do(http.MethodPost, "/organizations", token, map[string]string{"name": name})
}

func (suite *RoutesTestSuite) tenantSession(tenantPath, email string) *models.TokenResponse {
	rec := suite.do(http.MethodPost, tenantPath+"/auth/register", "", map[string]string{
		"name": "Dr Who", "email": email, "password": "correct-horse",
	})
	require.Equal(suite.T(), http.StatusCreated, rec.Code, rec.Body.String())

	rec = suite.do(http.MethodPost, tenantPath+"/auth/login", "", map[string]string{"email": email, "password": "correct-horse"})
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	return decode[*models.TokenResponse](suite.T(), rec)
}

func (suite *RoutesTestSuite) TestOrganizationLifecycle() {
	session := suite.centralSession("owner@example.com")

	rec := suite.do(http.MethodPost, "/Test%20Clinic/auth/login", "", map[string]string{
		"email": "doc@example.com", "password": "correct-horse",
	})
	suite.assertError(rec, http.StatusNotFound, "Organization not found")

	rec = suite.createOrganization(session.AccessToken, "Test Clinic")
	require.Equal(suite.T(), http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateOrganizationResponse](suite.T(), rec)
	assert.Equal(suite.T(), "test_clinic", created.Organization.Slug)
	assert.True(suite.T(), created.Database.Created)
	assert.Equal(suite.T(), "clinic_test_clinic", created.Database.DBName)
	assert.Equal(suite.T(), "clinic-db-test_clinic", created.Database.SecretName)
	assert.Contains(suite.T(), suite.provisioner.databases, "clinic_test_clinic")

	// the earlier 404 must not be served from the cache
	tenantSession := suite.tenantSession("/Test%20Clinic", "doc@example.com")
	require.NotNil(suite.T(), tenantSession.User)
	assert.Equal(suite.T(), models.RoleUnassigned, tenantSession.User.Role)
	assert.Equal(suite.T(), "test_clinic", tenantSession.User.TenantSlug)

	rec = suite.do(http.MethodGet, "/Test%20Clinic/auth/me", tenantSession.AccessToken, nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), "doc@example.com", decode[UserResponse](suite.T(), rec).User.Email)

	rec = suite.do(http.MethodGet, "/organizations", session.AccessToken, nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	list := decode[ListOrganizationsResponse](suite.T(), rec)
	require.Len(suite.T(), list.Organizations, 1)
	assert.Equal(suite.T(), "Test Clinic", list.Organizations[0].Name)

	rec = suite.do(http.MethodGet, "/organizations/Test%20Clinic", session.AccessToken, nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
}

func (suite *RoutesTestSuite) TestOrganizationNameWithPercentSign() {
	session := suite.centralSession("owner@example.com")

	rec := suite.createOrganization(session.AccessToken, "A%41")
	require.Equal(suite.T(), http.StatusCreated, rec.Code, rec.Body.String())

	tenantSession := suite.tenantSession("/A%2541", "doc@example.com")
	assert.Equal(suite.T(), "a_41", tenantSession.User.TenantSlug)

	rec = suite.do(http.MethodGet, "/organizations/A%2541", session.AccessToken, nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), "A%41", decode[models.Tenant](suite.T(), rec).Name)

	// "AA" is a different organization and does not exist
	rec = suite.do(http.MethodPost, "/AA/auth/login", "", map[string]string{
		"email": "doc@example.com", "password": "correct-horse",
	})
	suite.assertError(rec, http.StatusNotFound, "Organization not found")
}

func (suite *RoutesTestSuite) TestOrganizationRequiresCentralToken() {
	rec := suite.createOrganization("", "Test Clinic")
	suite.assertError(rec, http.StatusUnauthorized, "Authentication token required")

	rec = suite.createOrganization("garbage", "Test Clinic")
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")
	assert.Empty(suite.T(), suite.registry.tenants)
}

func (suite *RoutesTestSuite) TestOrganizationConflicts() {
	session := suite.centralSession("owner@example.com")
	require.Equal(suite.T(), http.StatusCreated, suite.createOrganization(session.AccessToken, "Test Clinic").Code)

	suite.assertError(suite.createOrganization(session.AccessToken, "Test Clinic"), http.StatusConflict, "Organization already exists")
	// same slug, different display name
	suite.assertError(suite.createOrganization(session.AccessToken, "test clinic"), http.StatusConflict, "Organization already exists")
	suite.assertError(suite.createOrganization(session.AccessToken, "   "), http.StatusBadRequest, "Organization name is required")

	assert.Len(suite.T(), suite.provisioner.databases, 1)
}

func (suite *RoutesTestSuite) TestCrossTenantTokenRejected() {
	session := suite.centralSession("owner@example.com")
	require.Equal(suite.T(), http.StatusCreated, suite.createOrganization(session.AccessToken, "Alpha").Code)
	require.Equal(suite.T(), http.StatusCreated, suite.createOrganization(session.AccessToken, "Beta").Code)

	alpha := suite.tenantSession("/Alpha", "doc@example.com")

	rec := suite.do(http.MethodGet, "/Beta/auth/me", alpha.AccessToken, nil)
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")

	rec = suite.do(http.MethodPost, "/Beta/auth/refresh", "", map[string]string{"refreshToken": alpha.RefreshToken})
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")

	// tenant tokens do not open central routes, and the reverse
	rec = suite.do(http.MethodGet, "/auth/me", alpha.AccessToken, nil)
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")
	rec = suite.do(http.MethodGet, "/Alpha/auth/me", session.AccessToken, nil)
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")
}

func (suite *RoutesTestSuite) TestRefreshRotationAndLogout() {
	session := suite.centralSession("owner@example.com")

	rec := suite.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[*models.TokenResponse](suite.T(), rec)
	assert.NotEqual(suite.T(), session.RefreshToken, rotated.RefreshToken)

	rec = suite.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")

	rec = suite.do(http.MethodPost, "/auth/logout", rotated.AccessToken, nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code)

	rec = suite.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": rotated.RefreshToken})
	suite.assertError(rec, http.StatusUnauthorized, "Invalid or expired token")
}

func (suite *RoutesTestSuite) TestTenantUserCreationRequiresAdmin() {
	session := suite.centralSession("owner@example.com")
	require.Equal(suite.T(), http.StatusCreated, suite.createOrganization(session.AccessToken, "Alpha").Code)
	member := suite.tenantSession("/Alpha", "member@example.com")

	rec := suite.do(http.MethodPost, "/Alpha/auth/users", member.AccessToken, map[string]string{
		"name": "Nurse", "email": "nurse@example.com", "password": "correct-horse", "role": "doctor",
	})
	suite.assertError(rec, http.StatusForbidden, "Insufficient permissions")
}

func (suite *RoutesTestSuite) TestLoginFailuresLookAlike() {
	suite.centralSession("owner@example.com")

	rec := suite.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "owner@example.com", "password": "wrong-password"})
	suite.assertError(rec, http.StatusUnauthorized, "Invalid credentials")

	rec = suite.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "wrong-password"})
	suite.assertError(rec, http.StatusUnauthorized, "Invalid credentials")
}

func (suite *RoutesTestSuite) TestOperationalRoutes() {
	rec := suite.do(http.MethodGet, "/health", "", nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.Equal(suite.T(), "v1", rec.Header().Get("X-API-Version"))

	rec = suite.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	suite.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "x@example.com", "password": "whatever1"})
	rec = suite.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "clinichub_auth_attempts_total")
}

func TestHTTPErrorHandler_HidesInternalCauses(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	HTTPErrorHandler(fmt.Errorf("pq: password authentication failed for user admin"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestHTTPErrorHandler_Timeout(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	HTTPErrorHandler(fmt.Errorf("create database: %w", context.DeadlineExceeded), c)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHealthHandlers_NotReady(t *testing.T) {
	health := NewHealthHandlers("test").
		AddCheck("database", true, func(context.Context) error { return fmt.Errorf("down") }).
		AddCheck("cache", false, func(context.Context) error { return nil })

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	require.NoError(t, health.ReadinessCheck(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, health.HealthCheck(c))
	status := decode[HealthStatus](t, rec)
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "unhealthy", status.Services["database"])
	assert.Equal(t, "healthy", status.Services["cache"])
}
