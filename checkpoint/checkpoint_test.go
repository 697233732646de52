//go:build unix

package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/preempt"
)

var (
	_ preempt.CheckpointReporter = (*Tracker)(nil)
	_ preempt.Flusher            = (*SignalFlusher)(nil)
)

func startTracker(t *testing.T, dir string, opts ...TrackerOption) *Tracker {
	t.Helper()
	if len(opts) == 0 {
		opts = []TrackerOption{WithSettle(50 * time.Millisecond)}
	}
	tr, err := NewTracker(dir, "*.pt", nil, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr
}

func TestTrackerSeedsFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "checkpoint_1.pt")
	newer := filepath.Join(dir, "checkpoint_2.pt")
	require.NoError(t, os.WriteFile(older, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	tr, err := NewTracker(dir, "*.pt", nil)
	require.NoError(t, err)
	defer tr.watcher.Close()

	path, _, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, newer, path)
}

func TestTrackerSeesNewCheckpoint(t *testing.T) {
	dir := t.TempDir()
	tr := startTracker(t, dir)

	_, _, ok := tr.Latest()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.log"), []byte("x"), 0644))
	path := filepath.Join(dir, "checkpoint_last.pt")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0644))

	require.Eventually(t, func() bool {
		got, _, ok := tr.Latest()
		return ok && got == path
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWaitNewerWaitsForChunkedWriteToSettle(t *testing.T) {
	dir := t.TempDir()
	tr := startTracker(t, dir, WithSettle(150*time.Millisecond))
	path := filepath.Join(dir, "checkpoint_big.pt")

	const chunks = 5
	chunk := []byte("0123456789abcdef")
	wrote := make(chan time.Time, 1)
	go func() {
		f, err := os.Create(path)
		if err != nil {
			return
		}
		defer f.Close()
		for i := 0; i < chunks; i++ {
			_, _ = f.Write(chunk)
			time.Sleep(40 * time.Millisecond)
		}
		wrote <- time.Now()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := tr.WaitNewer(ctx, time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, path, got)

	select {
	case <-wrote:
	default:
		t.Fatal("checkpoint reported before the writer finished")
	}
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, chunks*len(chunk), info.Size())
}

func TestTrackerWithoutSettleRecordsImmediately(t *testing.T) {
	dir := t.TempDir()
	tr := startTracker(t, dir, WithSettle(0))
	path := filepath.Join(dir, "checkpoint_now.pt")
	require.NoError(t, os.WriteFile(path, []byte("w"), 0644))

	require.Eventually(t, func() bool {
		got, _, ok := tr.Latest()
		return ok && got == path
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTrackerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet")
	startTracker(t, dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTrackerRejectsBadPattern(t *testing.T) {
	_, err := NewTracker(t.TempDir(), "[", nil)
	assert.Error(t, err)
}

func TestWaitNewerTimesOut(t *testing.T) {
	tr := startTracker(t, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.WaitNewer(ctx, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type writingSignaler struct {
	path string
	got  []syscall.Signal
}

func (w *writingSignaler) Signal(sig syscall.Signal) error {
	w.got = append(w.got, sig)
	return os.WriteFile(w.path, []byte("flushed"), 0644)
}

func TestSignalFlusherWaitsForCheckpoint(t *testing.T) {
	dir := t.TempDir()
	tr := startTracker(t, dir)
	target := &writingSignaler{path: filepath.Join(dir, "checkpoint_flush.pt")}

	f := &SignalFlusher{Target: target, Signal: syscall.SIGUSR2, Tracker: tr}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, []syscall.Signal{syscall.SIGUSR2}, target.got)

	path, _, _ := tr.Latest()
	assert.Equal(t, target.path, path)
}

type failingSignaler struct{}

func (failingSignaler) Signal(syscall.Signal) error { return syscall.ESRCH }

func TestSignalFlusherSignalError(t *testing.T) {
	f := &SignalFlusher{Target: failingSignaler{}, Signal: syscall.SIGUSR2}
	assert.Error(t, f.Flush(context.Background()))
}
