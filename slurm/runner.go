package slurm

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes a command and returns its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner. The process is killed when ctx is done; output pipes
// are abandoned shortly after so a stuck grandchild cannot hold the call open.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
