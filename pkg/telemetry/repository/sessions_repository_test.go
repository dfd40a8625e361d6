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

	"github.com/cliinsights/telemetry/pkg/telemetry/models"
	"github.com/cliinsights/telemetry/pkg/telemetry/resilience"
)

var _ = Describe("SessionsRepository", func() {
	var (
		ctx     context.Context
		repo    *SessionsRepository
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
		repo = NewSessionsRepository(db, zap.NewNop(), breaker)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("FindOpenByPartition", func() {
		It("returns nil when no open session exists for the partition", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`SELECT(.|\n)*FROM sessions`).
				WithArgs("tf", "actorhash", "machinehash").
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "tool_name", "actor_id_hash", "machine_id_hash", "session_hint",
					"ci_detected", "started_at", "ended_at", "event_count",
				}))

			session, err := repo.FindOpenByPartition(ctx, tx, "tf", "actorhash", "machinehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(session).To(BeNil())
		})

		It("returns the most recent open session", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			start := time.Now().Add(-time.Hour)
			mock.ExpectQuery(`SELECT(.|\n)*FROM sessions`).
				WithArgs("tf", "actorhash", "machinehash").
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "tool_name", "actor_id_hash", "machine_id_hash", "session_hint",
					"ci_detected", "started_at", "ended_at", "event_count",
				}).AddRow(7, "tf", "actorhash", "machinehash", nil, false, start, nil, 3))

			session, err := repo.FindOpenByPartition(ctx, tx, "tf", "actorhash", "machinehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(session).NotTo(BeNil())
			Expect(session.ID).To(Equal(int64(7)))
			Expect(session.IsOpen()).To(BeTrue())
			Expect(session.EventCount).To(Equal(3))
		})
	})

	Describe("LastEventTime", func() {
		It("returns the max timestamp of attached events", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			ts := time.Now()
			mock.ExpectQuery(`SELECT MAX\(timestamp\) FROM raw_events`).
				WithArgs(int64(7)).
				WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(ts))

			got, err := repo.LastEventTime(ctx, tx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Valid).To(BeTrue())
			Expect(got.Time).To(BeTemporally("~", ts, time.Millisecond))
		})
	})

	Describe("Create", func() {
		It("inserts a session and returns its id", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectQuery(`INSERT INTO sessions`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

			id, err := repo.Create(ctx, tx, &models.Session{
				ToolName: "tf", ActorHash: "a", MachineHash: "m", StartedAt: time.Now(), EventCount: 1,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(11)))
		})
	})

	Describe("Close", func() {
		It("sets ended_at on the session", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectExec(`UPDATE sessions SET ended_at`).WillReturnResult(sqlmock.NewResult(0, 1))

			err = repo.Close(ctx, tx, 11, sql.NullTime{Time: time.Now(), Valid: true})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("IncrementEventCount", func() {
		It("bumps event_count by delta", func() {
			mock.ExpectBegin()
			tx, err := db.BeginTxx(ctx, nil)
			Expect(err).NotTo(HaveOccurred())

			mock.ExpectExec(`UPDATE sessions SET event_count`).WithArgs(2, int64(11)).WillReturnResult(sqlmock.NewResult(0, 1))

			err = repo.IncrementEventCount(ctx, tx, 11, 2)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
