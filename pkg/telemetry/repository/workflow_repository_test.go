package repository

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

var _ = Describe("WorkflowRepository", func() {
	var (
		ctx     context.Context
		repo    *WorkflowRepository
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
		repo = NewWorkflowRepository(db, zap.NewNop(), breaker)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("CreateRun", func() {
		It("inserts a workflow run and returns its id", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`INSERT INTO workflow_runs`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

			id, err := repo.CreateRun(ctx, tx, &models.WorkflowRun{
				SessionID: 1, ToolName: "tf", WorkflowName: "apply_workflow",
				Outcome: models.OutcomeSuccess, StartedAt: time.Now(), EndedAt: time.Now(), StepCount: 3,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(42)))
		})
	})

	Describe("CreateSteps", func() {
		It("inserts one row per step", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectExec(`INSERT INTO workflow_steps`).WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec(`INSERT INTO workflow_steps`).WillReturnResult(sqlmock.NewResult(2, 1))

			err = repo.CreateSteps(ctx, tx, []*models.WorkflowStep{
				{WorkflowRunID: 42, EventID: 1, StepOrder: 0, Fingerprint: "tf/init"},
				{WorkflowRunID: 42, EventID: 2, StepOrder: 1, Fingerprint: "tf/apply"},
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("TopWorkflowNames", func() {
		It("returns per-outcome breakdown ordered by total", func() {
			rows := sqlmock.NewRows([]string{"workflow_name", "total", "success", "failed", "abandoned"}).
				AddRow("apply_workflow", 10, 8, 1, 1)
			mock.ExpectQuery(`SELECT(.|\n)*FROM workflow_runs(.|\n)*GROUP BY workflow_name`).
				WithArgs("tf", 10).
				WillReturnRows(rows)

			stats, err := repo.TopWorkflowNames(ctx, "tf", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(HaveLen(1))
			Expect(stats[0].WorkflowName).To(Equal("apply_workflow"))
			Expect(stats[0].Total).To(Equal(int64(10)))
		})
	})
})
