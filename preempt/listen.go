package preempt

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
)

// HandlerFunc reacts to one signal kind.
type HandlerFunc func(ctx context.Context) error

// Table maps signal kinds to their handler functions.
type Table map[Kind]HandlerFunc

// Bindings maps OS signals to the kind they announce.
type Bindings map[os.Signal]Kind

// Then runs next after fn, even if fn returned an error. Use it to hang the
// default termination flow off the TERM entry of a handler table.
func Then(fn HandlerFunc, next HandlerFunc) HandlerFunc {
	return func(ctx context.Context) error {
		var err error
		if fn != nil {
			err = fn(ctx)
		}
		if next != nil {
			if nextErr := next(ctx); nextErr != nil && err == nil {
				err = nextErr
			}
		}
		return err
	}
}

// Listener delivers bound OS signals to a handler table until stopped.
type Listener struct {
	ch       chan os.Signal
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Listen registers interest in the bound signals, once, and dispatches each
// delivery to table on a single goroutine. Only bound signals are intercepted;
// everything else keeps its default disposition. Every bound kind must have an
// entry in table.
func Listen(ctx context.Context, bindings Bindings, table Table, log *zap.SugaredLogger) (*Listener, error) {
	return ListenOn(ctx, make(chan os.Signal, 8), bindings, table, log)
}

// ListenOn is Listen reading from ch. The caller may have registered ch with
// signal.Notify already, so deliveries queued on it before the handler table
// existed are dispatched exactly once. The listener owns ch from here on.
func ListenOn(ctx context.Context, ch chan os.Signal, bindings Bindings, table Table, log *zap.SugaredLogger) (*Listener, error) {
	if len(bindings) == 0 {
		return nil, errors.New("no signal bindings")
	}
	if ch == nil {
		return nil, errors.New("nil signal channel")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	for sig, kind := range bindings {
		if table[kind] == nil {
			return nil, errors.Wrapf(errors.ErrUnhandledSignal, "%s is bound to %s but no handler is registered", signalName(sig), kind)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		ch:     ch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	signal.Notify(l.ch, bindings.Signals()...)

	log.Infow("Signal handlers registered", "bindings", bindings.String())

	go func() {
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-l.ch:
				kind, ok := bindings[sig]
				if !ok {
					log.Warnw("Signal has no binding, ignoring", "signal", signalName(sig))
					continue
				}
				slog := log.With("signal", signalName(sig), "kind", kind)
				if err := safeCall(ctx, table[kind]); err != nil {
					slog.Debugw("Signal handler returned error", "error", err)
				}
			}
		}
	}()

	return l, nil
}

// Stop unregisters the signals and waits for an in-flight handler to return.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		signal.Stop(l.ch)
		l.cancel()
		<-l.done
	})
}

// Signals returns the bound signals.
func (b Bindings) Signals() []os.Signal {
	sigs := make([]os.Signal, 0, len(b))
	for sig := range b {
		sigs = append(sigs, sig)
	}
	return sigs
}

// Done is closed once the listener goroutine has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func safeCall(ctx context.Context, fn HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("signal handler panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// String renders bindings as "SIGTERM=TERM,SIGUSR1=WARN".
func (b Bindings) String() string {
	parts := make([]string, 0, len(b))
	for sig, kind := range b {
		parts = append(parts, fmt.Sprintf("%s=%s", signalName(sig), kind))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
