package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinichub/internal/models"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type TenantRepoTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	repo    TenantRepository
	context context.Context
	now     time.Time
}

func (suite *TenantRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock
	suite.repo = NewTenantRepo(mock)
	suite.context = context.Background()
	suite.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (suite *TenantRepoTestSuite) TearDownTest() {
	suite.mock.Close()
}

func TestTenantRepoTestSuite(t *testing.T) {
	suite.Run(t, new(TenantRepoTestSuite))
}

func (suite *TenantRepoTestSuite) TestCreate_Success() {
	tenant := models.NewTenant("Test Clinic")

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(`SELECT name, slug\s+FROM tenant\s+WHERE name = \$1 OR slug = \$2`).
		WithArgs("Test Clinic", "test_clinic").
		WillReturnError(pgx.ErrNoRows)
	suite.mock.ExpectQuery(`INSERT INTO tenant \(name, slug, created_at, updated_at\)`).
		WithArgs("Test Clinic", "test_clinic").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), suite.now, suite.now))
	suite.mock.ExpectCommit()

	err := suite.repo.Create(suite.context, tenant)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(7), tenant.ID)
	assert.Equal(suite.T(), suite.now, tenant.CreatedAt)
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
}

func (suite *TenantRepoTestSuite) TestCreate_DuplicateName() {
	tenant := models.NewTenant("Test Clinic")

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(`SELECT name, slug\s+FROM tenant`).
		WithArgs("Test Clinic", "test_clinic").
		WillReturnRows(pgxmock.NewRows([]string{"name", "slug"}).AddRow("Test Clinic", "test_clinic"))
	suite.mock.ExpectRollback()

	err := suite.repo.Create(suite.context, tenant)
	assert.ErrorIs(suite.T(), err, ErrDuplicateTenantName)
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
}

func (suite *TenantRepoTestSuite) TestCreate_DuplicateSlug() {
	// "Test-Clinic" and "Test Clinic" both slugify to test_clinic
	tenant := models.NewTenant("Test-Clinic")

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(`SELECT name, slug\s+FROM tenant`).
		WithArgs("Test-Clinic", "test_clinic").
		WillReturnRows(pgxmock.NewRows([]string{"name", "slug"}).AddRow("Test Clinic", "test_clinic"))
	suite.mock.ExpectRollback()

	err := suite.repo.Create(suite.context, tenant)
	assert.ErrorIs(suite.T(), err, ErrDuplicateTenantSlug)
}

func (suite *TenantRepoTestSuite) TestCreate_ConcurrentInsertLosesOnConstraint() {
	tenant := models.NewTenant("Test Clinic")

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(`SELECT name, slug\s+FROM tenant`).
		WithArgs("Test Clinic", "test_clinic").
		WillReturnError(pgx.ErrNoRows)
	suite.mock.ExpectQuery(`INSERT INTO tenant`).
		WithArgs("Test Clinic", "test_clinic").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tenant_slug_key"})
	suite.mock.ExpectRollback()

	err := suite.repo.Create(suite.context, tenant)
	assert.ErrorIs(suite.T(), err, ErrDuplicateTenantSlug)
}

func (suite *TenantRepoTestSuite) TestCreate_BeginFails() {
	suite.mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := suite.repo.Create(suite.context, models.NewTenant("Test Clinic"))
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "begin tenant insert")
}

func (suite *TenantRepoTestSuite) TestDelete() {
	suite.mock.ExpectExec(`DELETE FROM tenant WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(suite.T(), suite.repo.Delete(suite.context, 7))
}

func (suite *TenantRepoTestSuite) TestGetByName_NotFound() {
	suite.mock.ExpectQuery(`SELECT id, name, slug, created_at, updated_at\s+FROM tenant\s+WHERE name = \$1`).
		WithArgs("Nowhere").
		WillReturnError(pgx.ErrNoRows)

	tenant, err := suite.repo.GetByName(suite.context, "Nowhere")
	assert.Nil(suite.T(), tenant)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *TenantRepoTestSuite) TestGetByName_Found() {
	suite.mock.ExpectQuery(`FROM tenant\s+WHERE name = \$1`).
		WithArgs("Test Clinic").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "created_at", "updated_at"}).
			AddRow(int64(3), "Test Clinic", "test_clinic", suite.now, suite.now))

	tenant, err := suite.repo.GetByName(suite.context, "Test Clinic")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "test_clinic", tenant.Slug)
}

func (suite *TenantRepoTestSuite) TestExistsByName() {
	suite.mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM tenant WHERE name = \$1\)`).
		WithArgs("Test Clinic").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := suite.repo.ExistsByName(suite.context, "Test Clinic")
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), exists)
}

func (suite *TenantRepoTestSuite) TestList() {
	suite.mock.ExpectQuery(`ORDER BY created_at DESC, id DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "created_at", "updated_at"}).
			AddRow(int64(2), "Beta", "beta", suite.now, suite.now).
			AddRow(int64(1), "Alpha", "alpha", suite.now, suite.now))

	tenants, err := suite.repo.List(suite.context, 20, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), tenants, 2)
	assert.Equal(suite.T(), "Beta", tenants[0].Name)
}
