package testing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/teranos/preempt/journal"
	"github.com/teranos/preempt/preempt"
)

// CreateTestJournal creates a migrated in-memory journal database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestJournal(t *testing.T) *sql.DB {
	t.Helper()

	db, err := journal.OpenWithMigrations(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test journal: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SeedRun journals one run of jobID that received a warning, had it requeued
// (or failed to, when requeueErr is set) and exited with exitCode.
func SeedRun(t *testing.T, db *sql.DB, runID, jobID string, requeueErr error, exitCode int) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j := journal.New(db, runID, nil)
	if err := j.StartRun(ctx, journal.Run{JobID: jobID, Host: "node001", PID: 4000, StartedAt: start}); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	state := preempt.StateRequeueRequested
	if requeueErr != nil {
		state = preempt.StateRequeueFailed
	}
	j.Observe(preempt.Event{
		JobID:    jobID,
		Kind:     preempt.KindWarn,
		State:    state,
		Action:   preempt.ActionRequeue,
		Err:      requeueErr,
		At:       start.Add(time.Hour),
		Duration: 40 * time.Millisecond,
	})

	if err := j.EndRun(ctx, exitCode, start.Add(2*time.Hour)); err != nil {
		t.Fatalf("Failed to end run: %v", err)
	}
}
