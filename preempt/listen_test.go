//go:build unix

package preempt

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/preempt/errors"
)

// The listener tests deliver real signals to the test process. SIGUSR2 stands
// in for TERM so a stray delivery can never kill the test binary.
func testBindings() Bindings {
	return Bindings{
		syscall.SIGUSR1: KindWarn,
		syscall.SIGUSR2: KindTerm,
	}
}

func TestListenDeliversWarnToRequeue(t *testing.T) {
	r := &recordingRequeuer{}
	obs := &recordingObserver{}
	h := New(testJob(), r, WithObserver(obs))

	l, err := Listen(context.Background(), testBindings(), h.Table(), nil)
	require.NoError(t, err)
	defer l.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	require.Eventually(t, func() bool { return len(obs.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"4242"}, r.Calls())
	assert.Equal(t, StateRunning, h.State())
}

func TestListenTermRunsDefaultFlowWithoutRequeue(t *testing.T) {
	r := &recordingRequeuer{}
	h := New(testJob(), r)

	terminated := make(chan struct{})
	table := h.Table()
	table[KindTerm] = Then(table[KindTerm], func(ctx context.Context) error {
		close(terminated)
		return nil
	})

	l, err := Listen(context.Background(), testBindings(), table, nil)
	require.NoError(t, err)
	defer l.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("termination flow did not run")
	}
	assert.Empty(t, r.Calls())
	assert.Equal(t, StateTerminated, h.State())
}

func TestListenRejectsUnregisteredKind(t *testing.T) {
	h := New(testJob(), &recordingRequeuer{})
	table := h.Table()
	delete(table, KindTerm)

	_, err := Listen(context.Background(), testBindings(), table, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnhandledSignal))
}

func TestListenRecoversHandlerPanic(t *testing.T) {
	calls := make(chan struct{}, 2)
	table := Table{
		KindWarn: func(ctx context.Context) error {
			calls <- struct{}{}
			panic("handler bug")
		},
		KindTerm: func(ctx context.Context) error { return nil },
	}

	l, err := Listen(context.Background(), testBindings(), table, nil)
	require.NoError(t, err)
	defer l.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	<-calls
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("listener stopped dispatching after a handler panic")
	}
}

func TestListenerStopIsIdempotent(t *testing.T) {
	h := New(testJob(), &recordingRequeuer{})
	l, err := Listen(context.Background(), testBindings(), h.Table(), nil)
	require.NoError(t, err)

	l.Stop()
	l.Stop()

	select {
	case <-l.Done():
	default:
		t.Fatal("listener goroutine still running after Stop")
	}
}

func TestThenReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	ran := false
	fn := Then(func(ctx context.Context) error { return first }, func(ctx context.Context) error {
		ran = true
		return errors.New("second")
	})

	err := fn(context.Background())
	assert.True(t, ran)
	assert.Equal(t, first, err)
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal("usr1")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGUSR1, sig)

	sig, err = ParseSignal("SIGTERM")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGTERM, sig)

	_, err = ParseSignal("KILL")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestBindingsFromNames(t *testing.T) {
	b, err := BindingsFromNames("USR1", "TERM")
	require.NoError(t, err)
	assert.Equal(t, DefaultBindings(), b)
	assert.Equal(t, "SIGTERM=TERM,SIGUSR1=WARN", b.String())

	_, err = BindingsFromNames("TERM", "SIGTERM")
	assert.Error(t, err)

	_, err = BindingsFromNames("STOP", "TERM")
	assert.Error(t, err)
}

func TestListenOnDispatchesQueuedSignalOnce(t *testing.T) {
	r := &recordingRequeuer{}
	obs := &recordingObserver{}
	h := New(testJob(), r, WithObserver(obs))

	// registered before the handler exists, as run does around workload start
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, testBindings().Signals()...)
	defer signal.Stop(ch)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.Eventually(t, func() bool { return len(ch) == 1 }, 2*time.Second, 10*time.Millisecond)

	l, err := ListenOn(context.Background(), ch, testBindings(), h.Table(), nil)
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool { return len(obs.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// a second delivery after the listener is up is its own requeue
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.Eventually(t, func() bool { return len(obs.Events()) == 2 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, h.Requeues())
	assert.Equal(t, []string{"4242", "4242"}, r.Calls())
}

func TestListenOnRejectsNilChannel(t *testing.T) {
	h := New(testJob(), &recordingRequeuer{})
	_, err := ListenOn(context.Background(), nil, testBindings(), h.Table(), nil)
	require.Error(t, err)
}

func TestBindingsSignals(t *testing.T) {
	assert.ElementsMatch(t, []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}, testBindings().Signals())
}
