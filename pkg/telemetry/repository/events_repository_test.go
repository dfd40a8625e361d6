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

var _ = Describe("EventsRepository", func() {
	var (
		ctx     context.Context
		repo    *EventsRepository
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
		repo = NewEventsRepository(db, zap.NewNop(), breaker)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("InsertBatch", func() {
		It("inserts each event and returns assigned ids in order", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`INSERT INTO raw_events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			mock.ExpectQuery(`INSERT INTO raw_events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

			events := []*models.RawEvent{
				{EventID: "evt_a", Timestamp: time.Now(), ToolName: "tf", ActorHash: "a", MachineHash: "m"},
				{EventID: "evt_b", Timestamp: time.Now(), ToolName: "tf", ActorHash: "a", MachineHash: "m"},
			}

			ids, err := repo.InsertBatch(ctx, tx, events)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]int64{1, 2}))
		})

		It("wraps a database error", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`INSERT INTO raw_events`).WillReturnError(sqlmock.ErrCancelled)

			_, err = repo.InsertBatch(ctx, tx, []*models.RawEvent{{EventID: "evt_a", Timestamp: time.Now()}})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("insert raw event"))
		})
	})

	Describe("FetchUnsessionized", func() {
		It("fetches events with id greater than the cursor and no session", func() {
			rows := sqlmock.NewRows([]string{
				"id", "event_id", "timestamp", "tool_name", "tool_version", "command_path", "flags_present",
				"exit_code", "duration_ms", "error_type", "actor_id_hash", "machine_id_hash",
				"session_hint", "ci_detected", "ingested_at", "session_id", "workflow_run_id",
				"experiment_id", "variant",
			}).AddRow(
				5, "evt_abc", time.Now(), "tf", nil, []byte(`["tf","apply"]`), []byte(`[]`),
				nil, nil, nil, "aaaa", "bbbb",
				nil, false, time.Now(), nil, nil,
				nil, nil,
			)
			mock.ExpectQuery(`SELECT(.|\n)*FROM raw_events(.|\n)*WHERE id > \$1 AND session_id IS NULL`).
				WithArgs(int64(0), 10000).
				WillReturnRows(rows)

			events, err := repo.FetchUnsessionized(ctx, 0, 10000)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].ID).To(Equal(int64(5)))
			Expect(events[0].CommandPath).To(Equal([]string{"tf", "apply"}))
		})
	})
})
