package repository

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

var _ = Describe("CredentialsRepository", func() {
	var (
		ctx     context.Context
		repo    *CredentialsRepository
		db      *sqlx.DB
		mock    sqlmock.Sqlmock
		breaker *resilience.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		breaker = resilience.NewManager(resilience.DefaultSettings(), zap.NewNop())
		repo = NewCredentialsRepository(db, zap.NewNop(), breaker)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("Create", func() {
		It("persists only the token hash", func() {
			mock.ExpectQuery(`INSERT INTO api_credentials`).
				WithArgs("deadbeef", "tf").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

			id, err := repo.Create(ctx, &models.APICredential{TokenHash: "deadbeef", ToolName: "tf"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(1)))
		})
	})

	Describe("FindByTokenHash", func() {
		It("returns ErrNotFound for a revoked or missing credential", func() {
			mock.ExpectQuery(`SELECT(.|\n)*FROM api_credentials`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			_, err := repo.FindByTokenHash(ctx, "missing")
			Expect(err).To(Equal(ErrNotFound))
		})
	})
})
