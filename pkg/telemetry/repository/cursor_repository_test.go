package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

var _ = Describe("CursorRepository", func() {
	var (
		ctx     context.Context
		repo    *CursorRepository
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
		repo = NewCursorRepository(db, zap.NewNop(), breaker)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("LockForInference", func() {
		It("returns the existing locked row", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`SELECT id, last_event_id, last_run_at FROM inference_cursor`).
				WillReturnRows(sqlmock.NewRows([]string{"id", "last_event_id", "last_run_at"}).AddRow(1, 100, time.Now()))

			cur, err := repo.LockForInference(ctx, tx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.LastEventID).To(Equal(int64(100)))
		})

		It("bootstraps a zero-valued row when none exists", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`SELECT id, last_event_id, last_run_at FROM inference_cursor`).
				WillReturnError(sql.ErrNoRows)
			mock.ExpectQuery(`INSERT INTO inference_cursor`).
				WillReturnRows(sqlmock.NewRows([]string{"id", "last_event_id", "last_run_at"}).AddRow(1, 0, time.Now()))

			cur, err := repo.LockForInference(ctx, tx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.LastEventID).To(Equal(int64(0)))
		})
	})

	Describe("Advance", func() {
		It("updates the cursor row", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectExec(`UPDATE inference_cursor SET last_event_id = \$1, last_run_at = \$2 WHERE id = \$3`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err = repo.Advance(ctx, tx, 1, 500, time.Now())
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
