package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/preempt"
)

var _ preempt.Observer = (*Journal)(nil)

// createTestDB opens an in-memory journal with the schema applied
func createTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenWithMigrations(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func startedJournal(t *testing.T, db *sql.DB, runID, jobID string) *Journal {
	t.Helper()
	j := New(db, runID, nil)
	require.NoError(t, j.StartRun(context.Background(), Run{
		JobID:     jobID,
		Host:      "learnfair0042",
		PID:       1234,
		StartedAt: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
	}))
	return j
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")

	db, err := Open(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := createTestDB(t)
	require.NoError(t, Migrate(db, nil))

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 3, versions)
}

func TestSchemaVersion(t *testing.T) {
	empty, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer empty.Close()

	v, err := SchemaVersion(empty)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	db := createTestDB(t)
	v, err = SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, "002", v)
	assert.Equal(t, LatestSchemaVersion(), v)
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	db := createTestDB(t)
	_, err := db.Exec(`INSERT INTO schema_migrations (version) VALUES ('999')`)
	require.NoError(t, err)

	err = Migrate(db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this binary")
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestMigrateAppliesOnlyMissingSteps(t *testing.T) {
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NoError(t, applyMigration(db, ms[0]))
	require.NoError(t, applyMigration(db, ms[1]))

	require.NoError(t, Migrate(db, zap.NewNop().Sugar()))
	v, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, "002", v)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM preempt_events").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestObserveAndList(t *testing.T) {
	db := createTestDB(t)
	j := startedJournal(t, db, "run-1", "4242")
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	j.Observe(preempt.Event{Kind: preempt.KindWarn, JobID: "4242", State: preempt.StateRequeueRequested,
		Action: preempt.ActionRequeue, At: at, Duration: 40 * time.Millisecond})
	j.Observe(preempt.Event{Kind: preempt.KindWarn, JobID: "4242", State: preempt.StateRequeueFailed,
		Action: preempt.ActionRequeue, At: at.Add(time.Second), Err: errors.New("Invalid job id specified")})
	j.Observe(preempt.Event{Kind: preempt.KindTerm, JobID: "4242", State: preempt.StateTerminated,
		Action: preempt.ActionBypassTerminate, At: at.Add(2 * time.Second)})

	entries, err := List(context.Background(), db, ListOptions{JobID: "4242"})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "TERM", entries[0].Kind)
	assert.Equal(t, "bypass_terminate", entries[0].Action)
	assert.Equal(t, "Invalid job id specified", entries[1].Error)
	assert.Equal(t, int64(40), entries[2].DurationMS)
	assert.Equal(t, "run-1", entries[2].RunID)
	assert.True(t, at.Equal(entries[2].CreatedAt))

	limited, err := List(context.Background(), db, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := CountRequeues(context.Background(), db, "4242")
	require.NoError(t, err)
	assert.Equal(t, RequeueCounts{Requested: 1, Failed: 1}, counts)
}

func TestRunsAcrossRequeues(t *testing.T) {
	db := createTestDB(t)
	first := startedJournal(t, db, "run-1", "4242")
	end := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	require.NoError(t, first.EndRun(context.Background(), 143, end))

	second := New(db, "run-2", nil)
	require.NoError(t, second.StartRun(context.Background(), Run{
		JobID: "4242", RestartCount: 1, StartedAt: end.Add(time.Minute),
	}))

	runs, err := Runs(context.Background(), db, "4242")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-1", runs[0].RunID)
	require.NotNil(t, runs[0].ExitCode)
	assert.Equal(t, 143, *runs[0].ExitCode)
	require.NotNil(t, runs[0].EndedAt)
	assert.True(t, end.Equal(*runs[0].EndedAt))

	assert.Equal(t, 1, runs[1].RestartCount)
	assert.Nil(t, runs[1].ExitCode)
}

func TestObserveLogsWriteFailure(t *testing.T) {
	db := createTestDB(t)
	core, logs := observer.New(zapcore.DebugLevel)
	j := New(db, "run-1", zap.New(core).Sugar())

	// no StartRun: the foreign key rejects the insert
	j.Observe(preempt.Event{Kind: preempt.KindWarn, JobID: "4242", At: time.Now()})
	assert.Equal(t, 1, logs.FilterMessage("Failed to journal event").Len())

	db.Close()
	j.Observe(preempt.Event{Kind: preempt.KindWarn, JobID: "4242", At: time.Now()})
	assert.Equal(t, 1, logs.FilterMessage("Journal closed, event dropped").Len())
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "record")))
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("disk I/O error")))
}

// --- Sqlmock Tests ---

func TestRecord_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO preempt_events`).
		WithArgs("run-7", "4242", "5000_8", "WARN", "REQUEUE_REQUESTED", "requeue", "", int64(12), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	j := New(db, "run-7", nil)
	require.NoError(t, j.Record(context.Background(), Entry{
		JobID: "4242", ArrayTask: "5000_8", Kind: "WARN", State: "REQUEUE_REQUESTED",
		Action: "requeue", DurationMS: 12, CreatedAt: at,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRequeues_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT.*FROM preempt_events WHERE job_id = \? AND action = \?`).
		WithArgs("REQUEUE_REQUESTED", "REQUEUE_FAILED", "4242", "requeue").
		WillReturnRows(sqlmock.NewRows([]string{"requested", "failed"}).AddRow(5, 2))

	counts, err := CountRequeues(context.Background(), db, "4242")
	require.NoError(t, err)
	assert.Equal(t, RequeueCounts{Requested: 5, Failed: 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_SqlmockQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM preempt_events`).WillReturnError(errors.New("disk I/O error"))

	_, err = List(context.Background(), db, ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query journal events")
}
