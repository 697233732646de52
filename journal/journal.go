package journal

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/preempt"
)

// Run is one launch of the workload
type Run struct {
	RunID        string
	JobID        string
	ArrayTask    string
	RestartCount int
	Host         string
	PID          int
	StartedAt    time.Time
	EndedAt      *time.Time
	ExitCode     *int
}

// Entry is one handled signal
type Entry struct {
	ID         int64
	RunID      string
	JobID      string
	ArrayTask  string
	Kind       string
	State      string
	Action     string
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// RequeueCounts summarizes requeue attempts for a job
type RequeueCounts struct {
	Requested int
	Failed    int
}

// Journal writes events for a single run. It implements preempt.Observer.
type Journal struct {
	db    *sql.DB
	runID string
	log   *zap.SugaredLogger
}

// New returns a journal writing under runID
func New(db *sql.DB, runID string, log *zap.SugaredLogger) *Journal {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Journal{db: db, runID: runID, log: log}
}

// StartRun records the start of this run
func (j *Journal) StartRun(ctx context.Context, r Run) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, job_id, array_task, restart_count, host, pid, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.runID, r.JobID, r.ArrayTask, r.RestartCount, r.Host, r.PID, r.StartedAt.UTC())
	if err != nil {
		return errors.Wrapf(err, "record start of run %s", j.runID)
	}
	return nil
}

// EndRun records the workload's exit
func (j *Journal) EndRun(ctx context.Context, exitCode int, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, exit_code = ? WHERE run_id = ?`,
		at.UTC(), exitCode, j.runID)
	if err != nil {
		return errors.Wrapf(err, "record end of run %s", j.runID)
	}
	return nil
}

// Record inserts one entry for this run
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO preempt_events (run_id, job_id, array_task, kind, state, action, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, e.JobID, e.ArrayTask, e.Kind, e.State, e.Action, e.Error, e.DurationMS, e.CreatedAt.UTC())
	if err != nil {
		return errors.Wrapf(err, "record %s event for job %s", e.Kind, e.JobID)
	}
	return nil
}

// Observe implements preempt.Observer. Write failures are logged, never returned:
// the journal must not get in the way of a requeue.
func (j *Journal) Observe(ev preempt.Event) {
	e := Entry{
		JobID:      ev.JobID,
		ArrayTask:  ev.ArrayTask,
		Kind:       string(ev.Kind),
		State:      string(ev.State),
		Action:     string(ev.Action),
		DurationMS: ev.Duration.Milliseconds(),
		CreatedAt:  ev.At,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), SQLiteBusyTimeoutMS*time.Millisecond)
	defer cancel()
	if err := j.Record(ctx, e); err != nil {
		if IsDatabaseClosed(err) {
			j.log.Debugw("Journal closed, event dropped", "kind", e.Kind)
			return
		}
		j.log.Warnw("Failed to journal event", "kind", e.Kind, "error", err)
	}
}

// ListOptions filters List
type ListOptions struct {
	JobID string // empty = all jobs
	Limit int    // 0 = no limit
}

// List returns entries newest first
func List(ctx context.Context, db *sql.DB, opts ListOptions) ([]Entry, error) {
	query := `SELECT id, run_id, job_id, array_task, kind, state, action, error, duration_ms, created_at
		FROM preempt_events`
	var args []interface{}
	if opts.JobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, opts.JobID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query journal events")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RunID, &e.JobID, &e.ArrayTask, &e.Kind, &e.State, &e.Action, &e.Error, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan journal event")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate journal events")
}

// Runs returns the runs of jobID, oldest first
func Runs(ctx context.Context, db *sql.DB, jobID string) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, job_id, array_task, restart_count, host, pid, started_at, ended_at, exit_code
		 FROM runs WHERE job_id = ? ORDER BY started_at`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var ended sql.NullTime
		var code sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.JobID, &r.ArrayTask, &r.RestartCount, &r.Host, &r.PID, &r.StartedAt, &ended, &code); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		if code.Valid {
			c := int(code.Int64)
			r.ExitCode = &c
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

// CountRequeues counts requeue attempts journaled for jobID
func CountRequeues(ctx context.Context, db *sql.DB, jobID string) (RequeueCounts, error) {
	var c RequeueCounts
	err := db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		 FROM preempt_events WHERE job_id = ? AND action = ?`,
		string(preempt.StateRequeueRequested), string(preempt.StateRequeueFailed), jobID, string(preempt.ActionRequeue),
	).Scan(&c.Requested, &c.Failed)
	if err != nil {
		return c, errors.Wrapf(err, "count requeues for job %s", jobID)
	}
	return c, nil
}
