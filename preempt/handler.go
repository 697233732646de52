// Package preempt implements the preemption handler: on a scheduler warning it
// asks the scheduler to requeue the current job so training resumes from the
// last checkpoint; on termination it steps aside and lets the default flow run.
//
// The handler never interrupts the workload and never lets a failure escape:
// a failed requeue is logged and the job keeps running until it is killed.
package preempt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/job"
)

// DefaultRequeueTimeout bounds a single requeue call.
const DefaultRequeueTimeout = 10 * time.Second

// Kind is the class of a scheduler-delivered signal.
type Kind string

const (
	KindWarn Kind = "WARN" // impending preemption, delivered with lead time
	KindTerm Kind = "TERM" // immediate termination request
)

// State is the handler's position in the preemption state machine.
//
//	RUNNING -> WARN_RECEIVED -> REQUEUE_REQUESTED | REQUEUE_FAILED -> RUNNING
//	RUNNING -> TERMINATED
type State string

const (
	StateRunning          State = "RUNNING"
	StateWarnReceived     State = "WARN_RECEIVED"
	StateRequeueRequested State = "REQUEUE_REQUESTED"
	StateRequeueFailed    State = "REQUEUE_FAILED"
	StateTerminated       State = "TERMINATED"
)

// Action is what the handler did with a signal.
type Action string

const (
	ActionRequeue         Action = "requeue"
	ActionBypassTerminate Action = "bypass_terminate"
	ActionIgnored         Action = "ignored"
)

// Requeuer asks the scheduler to requeue a job by identifier.
// Implementations should honour ctx; the handler abandons the call at its deadline either way.
type Requeuer interface {
	Requeue(ctx context.Context, jobID string) error
}

// RequeueFunc adapts a function to the Requeuer interface.
type RequeueFunc func(ctx context.Context, jobID string) error

// Requeue implements Requeuer.
func (f RequeueFunc) Requeue(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

// Flusher asks the workload to write a checkpoint before the job is requeued.
type Flusher interface {
	Flush(ctx context.Context) error
}

// CheckpointReporter exposes the most recent checkpoint seen on disk.
type CheckpointReporter interface {
	Latest() (path string, at time.Time, ok bool)
}

// Event describes one handled signal. Observers receive it after the handler acts.
type Event struct {
	Kind      Kind
	JobID     string
	ArrayTask string
	State     State // outcome state: REQUEUE_REQUESTED, REQUEUE_FAILED or TERMINATED
	Action    Action
	Err       error
	At        time.Time
	Duration  time.Duration
}

// Observer receives handler events (journal, metrics).
type Observer interface {
	Observe(Event)
}

// Handler reacts to WARN and TERM for a single job.
type Handler struct {
	job         *job.Job
	requeuer    Requeuer
	timeout     time.Duration
	log         *zap.SugaredLogger
	observers   []Observer
	flusher     Flusher
	flushWait   time.Duration
	checkpoints CheckpointReporter
	now         func() time.Time

	mu          sync.Mutex
	state       State
	lastOutcome State
	warns       int
	requeues    int
	failures    int
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds each requeue call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the handler's logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithObserver adds an observer notified after every handled signal.
func WithObserver(o Observer) Option {
	return func(h *Handler) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

// WithFlusher requests a checkpoint flush before each requeue, bounded by wait.
func WithFlusher(f Flusher, wait time.Duration) Option {
	return func(h *Handler) {
		h.flusher = f
		h.flushWait = wait
	}
}

// WithCheckpoints lets the handler log how old the newest checkpoint is on WARN.
func WithCheckpoints(c CheckpointReporter) Option {
	return func(h *Handler) {
		h.checkpoints = c
	}
}

// New creates a handler for j that requeues through r.
func New(j *job.Job, r Requeuer, opts ...Option) *Handler {
	h := &Handler{
		job:         j,
		requeuer:    r,
		timeout:     DefaultRequeueTimeout,
		log:         zap.NewNop().Sugar(),
		now:         time.Now,
		state:       StateRunning,
		lastOutcome: StateRunning,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(j.LogFields()...)
	return h
}

// State returns the current state. After a WARN it is RUNNING again.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastOutcome returns the outcome of the most recent signal
// (REQUEUE_REQUESTED, REQUEUE_FAILED, TERMINATED) or RUNNING if none yet.
func (h *Handler) LastOutcome() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOutcome
}

// Requeues returns how many requeue calls were issued.
func (h *Handler) Requeues() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requeues
}

// Stats returns WARN deliveries, requeue calls and failed requeues.
func (h *Handler) Stats() (warns, requeues, failures int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warns, h.requeues, h.failures
}

// JobState returns the job's run state as tracked by the handler.
func (h *Handler) JobState() job.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.State
}

// HandleWarn requests a requeue of the current job. It returns the requeue
// error for callers that want it; the error is already logged and never fatal.
// Every WARN issues its own requeue call; the scheduler deduplicates.
func (h *Handler) HandleWarn(ctx context.Context) error {
	start := h.now()

	h.mu.Lock()
	if h.state == StateTerminated {
		h.mu.Unlock()
		h.log.Warnw("Preemption warning after termination, ignoring", "kind", KindWarn)
		h.emit(Event{Kind: KindWarn, State: StateTerminated, Action: ActionIgnored, At: start})
		return nil
	}
	h.state = StateWarnReceived
	h.warns++
	h.mu.Unlock()

	fields := []interface{}{"kind", KindWarn}
	if h.checkpoints != nil {
		if path, at, ok := h.checkpoints.Latest(); ok {
			fields = append(fields, "checkpoint", path, "checkpoint_age", start.Sub(at).Round(time.Second).String())
		} else {
			fields = append(fields, "checkpoint", "none")
		}
	}
	h.log.Infow("Preemption warning received, requeueing job", fields...)

	if h.flusher != nil {
		h.flush(ctx)
	}

	err := h.callRequeue(ctx)
	elapsed := h.now().Sub(start)

	h.mu.Lock()
	h.requeues++
	outcome := StateRequeueRequested
	if err != nil {
		outcome = StateRequeueFailed
		h.failures++
	} else {
		h.job.State = job.StateRequeued
	}
	h.lastOutcome = outcome
	h.state = StateRunning
	h.mu.Unlock()

	if err != nil {
		h.log.Errorw("Requeue failed, job keeps running until terminated",
			"action", ActionRequeue,
			"duration_ms", elapsed.Milliseconds(),
			"transient", IsTransient(err),
			"error", err)
	} else {
		h.log.Infow("Requeue requested",
			"action", ActionRequeue,
			"duration_ms", elapsed.Milliseconds())
	}

	h.emit(Event{Kind: KindWarn, State: outcome, Action: ActionRequeue, Err: err, At: start, Duration: elapsed})
	return err
}

// HandleTerm records the termination request without requeueing; the
// scheduler handles replacement through its own path. Control returns to the
// caller's default termination flow.
func (h *Handler) HandleTerm(ctx context.Context) {
	start := h.now()

	h.mu.Lock()
	h.state = StateTerminated
	h.lastOutcome = StateTerminated
	h.job.State = job.StateTerminating
	h.mu.Unlock()

	h.log.Infow("Termination signal received, bypass terminate", "kind", KindTerm, "action", ActionBypassTerminate)
	h.emit(Event{Kind: KindTerm, State: StateTerminated, Action: ActionBypassTerminate, At: start})
}

// Dispatch routes a signal kind to its handler method.
func (h *Handler) Dispatch(ctx context.Context, kind Kind) error {
	switch kind {
	case KindWarn:
		return h.HandleWarn(ctx)
	case KindTerm:
		h.HandleTerm(ctx)
		return nil
	default:
		h.log.Warnw("Signal kind not handled", "kind", kind)
		return errors.Wrapf(errors.ErrUnhandledSignal, "kind %q", kind)
	}
}

// Table returns the handler's kind-to-function mapping for Listen.
func (h *Handler) Table() Table {
	return Table{
		KindWarn: h.HandleWarn,
		KindTerm: func(ctx context.Context) error {
			h.HandleTerm(ctx)
			return nil
		},
	}
}

// callRequeue runs the requeue in its own goroutine so a Requeuer that ignores
// ctx (or panics) cannot stall or crash the signal path.
func (h *Handler) callRequeue(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("requeue panicked: %v", r)
			}
		}()
		done <- h.requeuer.Requeue(ctx, h.job.RequeueID())
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = errors.Mark(errors.Wrapf(ctx.Err(), "requeue %s not answered within %s", h.job.RequeueID(), h.timeout), errors.ErrTimeout)
	}
	return errors.RequeueFailed(err)
}

func (h *Handler) flush(ctx context.Context) {
	wait := h.flushWait
	if wait <= 0 {
		wait = h.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	start := h.now()
	if err := h.flusher.Flush(ctx); err != nil {
		h.log.Warnw("Checkpoint flush did not complete before requeue", "error", err)
		return
	}
	h.log.Infow("Checkpoint flushed before requeue", "duration_ms", h.now().Sub(start).Milliseconds())
}

func (h *Handler) emit(ev Event) {
	ev.JobID = h.job.ID
	if h.job.IsArray() {
		ev.ArrayTask = h.job.Label()
	}
	for _, o := range h.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Errorw("Observer panicked", "error", fmt.Sprint(r))
				}
			}()
			o.Observe(ev)
		}()
	}
}
