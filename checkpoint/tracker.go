// Package checkpoint watches the workload's checkpoint directory so the
// handler can report, and optionally wait for, the newest checkpoint.
package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/preempt/errors"
)

// DefaultSettle is how long a checkpoint file must go without writes before
// it counts as complete
const DefaultSettle = time.Second

// Tracker remembers the most recently written checkpoint in a directory.
// A file is recorded only after it settles: frameworks write checkpoints in
// chunks, and the first write event arrives long before the last byte.
type Tracker struct {
	dir     string
	pattern string
	settle  time.Duration
	watcher *fsnotify.Watcher
	log     *zap.SugaredLogger
	errLog  rate.Sometimes // watcher errors come in bursts on overflow

	mu      sync.Mutex
	latest  string
	at      time.Time
	updated chan struct{} // closed and replaced on every new checkpoint
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithSettle sets the quiet period after the last write. Zero records on
// every event.
func WithSettle(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d >= 0 {
			t.settle = d
		}
	}
}

// NewTracker watches dir for files matching pattern. The directory is
// created if missing; existing checkpoints seed Latest.
func NewTracker(dir, pattern string, log *zap.SugaredLogger, opts ...TrackerOption) (*Tracker, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "invalid checkpoint pattern %q", pattern)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint directory %s", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch checkpoint directory %s", dir)
	}

	t := &Tracker{
		dir:     dir,
		pattern: pattern,
		settle:  DefaultSettle,
		watcher: watcher,
		log:     log,
		updated: make(chan struct{}),
		errLog:  rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.scan()
	return t, nil
}

// scan seeds the tracker from files already on disk (a requeued run
// starts with the previous run's checkpoints)
func (t *Tracker) scan() {
	matches, err := filepath.Glob(filepath.Join(t.dir, t.pattern))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().After(t.at) {
			t.latest, t.at = path, info.ModTime()
		}
	}
	if t.latest != "" {
		t.log.Infow("Existing checkpoint found", "checkpoint", t.latest, "checkpoint_age", time.Since(t.at).Round(time.Second).String())
	}
}

// Run processes filesystem events until ctx is done, then closes the watcher
func (t *Tracker) Run(ctx context.Context) error {
	defer t.watcher.Close()

	// last write or create per candidate file, until it settles
	pending := make(map[string]time.Time)
	var timer *time.Timer
	var settled <-chan time.Time
	arm := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		settled = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			// Write covers in-place saves, Create covers write-then-rename
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if match, _ := filepath.Match(t.pattern, filepath.Base(event.Name)); !match {
				continue
			}
			if t.settle == 0 {
				t.record(event.Name)
				continue
			}
			pending[event.Name] = time.Now()
			if settled == nil {
				arm(t.settle)
			}

		case now := <-settled:
			settled = nil
			var next time.Duration
			for path, last := range pending {
				if wait := t.settle - now.Sub(last); wait > 0 {
					if next == 0 || wait < next {
						next = wait
					}
					continue
				}
				delete(pending, path)
				t.record(path)
			}
			if next > 0 {
				arm(next)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.errLog.Do(func() {
				t.log.Warnw("Checkpoint watcher error", "error", err)
			})
		}
	}
}

func (t *Tracker) record(path string) {
	if ok, _ := filepath.Match(t.pattern, filepath.Base(path)); !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	t.mu.Lock()
	isNew := path != t.latest
	t.latest, t.at = path, info.ModTime()
	close(t.updated)
	t.updated = make(chan struct{})
	t.mu.Unlock()

	if isNew {
		t.log.Debugw("Checkpoint written", "checkpoint", path)
	}
}

// Latest returns the newest checkpoint seen and its modification time
func (t *Tracker) Latest() (string, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.at, t.latest != ""
}

// WaitNewer blocks until a checkpoint modified after since is seen or ctx is done
func (t *Tracker) WaitNewer(ctx context.Context, since time.Time) (string, error) {
	for {
		t.mu.Lock()
		latest, at, updated := t.latest, t.at, t.updated
		t.mu.Unlock()

		if latest != "" && at.After(since) {
			return latest, nil
		}

		select {
		case <-updated:
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "no new checkpoint")
		}
	}
}
