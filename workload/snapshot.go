package workload

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/job"
)

// Snapshot records what one launch of the workload looked like. Each
// requeued run writes its own, so a job's history can be replayed.
type Snapshot struct {
	RunID     string    `toml:"run_id"`
	StartedAt time.Time `toml:"started_at"`
	Host      string    `toml:"host"`
	Argv      []string  `toml:"argv"`
	WorkDir   string    `toml:"work_dir,omitempty"`
	Env       []string  `toml:"env,omitempty"` // only the configured entries, not the inherited environment
	Job       *job.Job  `toml:"job,omitempty"`
}

// SnapshotPath returns the snapshot file name for runID in dir
func SnapshotPath(dir, runID string) string {
	return filepath.Join(dir, "launch-"+runID+".toml")
}

// WriteSnapshot writes snap to dir and returns the file path
func WriteSnapshot(dir string, snap *Snapshot) (string, error) {
	if snap.RunID == "" {
		return "", errors.New("snapshot has no run id")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create snapshot directory %s", dir)
	}

	path := SnapshotPath(dir, snap.RunID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "create snapshot %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(snap); err != nil {
		return "", errors.Wrapf(err, "encode snapshot %s", path)
	}
	return path, nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot
func ReadSnapshot(path string) (*Snapshot, error) {
	var snap Snapshot
	if _, err := toml.DecodeFile(path, &snap); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", path)
	}
	return &snap, nil
}
