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

var _ = Describe("ExperimentsRepository", func() {
	var (
		ctx     context.Context
		repo    *ExperimentsRepository
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
		repo = NewExperimentsRepository(db, zap.NewNop(), breaker)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("FindByName", func() {
		It("returns ErrNotFound when no row matches", func() {
			mock.ExpectQuery(`SELECT(.|\n)*FROM experiments`).
				WithArgs("tf", "missing").
				WillReturnError(sql.ErrNoRows)

			_, err := repo.FindByName(ctx, "tf", "missing")
			Expect(err).To(Equal(ErrNotFound))
		})

		It("unmarshals variants and target commands", func() {
			rows := sqlmock.NewRows([]string{
				"id", "tool_name", "name", "variants", "target_commands", "traffic_pct", "active", "created_at",
			}).AddRow(1, "tf", "color", []byte(`["control","v1"]`), []byte(`[]`), 100.0, true, nil)
			mock.ExpectQuery(`SELECT(.|\n)*FROM experiments`).
				WithArgs("tf", "color").
				WillReturnRows(rows)

			e, err := repo.FindByName(ctx, "tf", "color")
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Variants).To(Equal([]string{"control", "v1"}))
		})
	})

	Describe("FindAssignment / CreateAssignment", func() {
		It("returns ErrNotFound then persists a new assignment", func() {
			mock.ExpectQuery(`SELECT(.|\n)*FROM variant_assignments`).
				WithArgs(int64(1), "actor-hash").
				WillReturnError(sql.ErrNoRows)

			_, err := repo.FindAssignment(ctx, 1, "actor-hash")
			Expect(err).To(Equal(ErrNotFound))

			mock.ExpectExec(`INSERT INTO variant_assignments`).
				WithArgs(int64(1), "actor-hash", "control").
				WillReturnResult(sqlmock.NewResult(1, 1))

			err = repo.CreateAssignment(ctx, &models.VariantAssignment{ExperimentID: 1, ActorHash: "actor-hash", Variant: "control"})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Stop", func() {
		It("returns ErrNotFound when nothing was updated", func() {
			mock.ExpectExec(`UPDATE experiments SET active = false`).
				WithArgs("tf", "missing").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.Stop(ctx, "tf", "missing")
			Expect(err).To(Equal(ErrNotFound))
		})
	})
})
