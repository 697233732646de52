//go:build unix

package checkpoint

import (
	"context"
	"syscall"
	"time"

	"github.com/teranos/preempt/errors"
)

// Signaler delivers a signal to the workload
type Signaler interface {
	Signal(sig syscall.Signal) error
}

// SignalFlusher asks the workload to checkpoint by sending it a signal, then
// waits for a new checkpoint file to appear.
type SignalFlusher struct {
	Target  Signaler
	Signal  syscall.Signal
	Tracker *Tracker
}

// Flush implements preempt.Flusher. The caller bounds the wait through ctx.
func (f *SignalFlusher) Flush(ctx context.Context) error {
	// file mtimes can be coarser than the clock; back off a little
	since := time.Now().Add(-10 * time.Millisecond)
	if err := f.Target.Signal(f.Signal); err != nil {
		return errors.Wrap(err, "request checkpoint")
	}
	if f.Tracker == nil {
		return nil
	}
	_, err := f.Tracker.WaitNewer(ctx, since)
	return err
}
