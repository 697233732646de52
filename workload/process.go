//go:build unix

package workload

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
)

// Process is a running workload. It leads its own process group so
// signals reach every child (srun, torchrun workers, data loaders).
type Process struct {
	cmd     *exec.Cmd
	argv    []string
	grace   time.Duration
	logFile *os.File
	log     *zap.SugaredLogger

	done     chan struct{}
	waitErr  error
	exitCode int

	termOnce sync.Once
}

// Start launches the workload. Stdout and stderr follow Spec.LogFile and Spec.Tee.
func Start(ctx context.Context, spec Spec, log *zap.SugaredLogger) (*Process, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	argv, err := spec.Argv()
	if err != nil {
		return nil, err
	}
	env, err := spec.Environ(os.Environ())
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = spec.WorkDir
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// a grandchild holding the output pipe must not keep Wait open
	cmd.WaitDelay = 5 * time.Second

	p := &Process{
		cmd:   cmd,
		argv:  argv,
		grace: spec.Grace,
		log:   log,
		done:  make(chan struct{}),
	}

	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0755); err != nil {
			return nil, errors.Wrapf(err, "create log directory for %s", spec.LogFile)
		}
		// append: requeued runs continue the same log
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "open workload log %s", spec.LogFile)
		}
		p.logFile = f
		cmd.Stdout, cmd.Stderr = f, f
		if spec.Tee {
			cmd.Stdout = io.MultiWriter(f, os.Stdout)
			cmd.Stderr = io.MultiWriter(f, os.Stderr)
		}
	}

	if err := cmd.Start(); err != nil {
		p.closeLog()
		return nil, errors.Wrapf(err, "start workload %s", shellquote.Join(argv...))
	}

	log.Infow("Workload started",
		"pid", cmd.Process.Pid,
		"command", shellquote.Join(argv...),
		"file", spec.LogFile)

	go p.wait()
	go func() {
		select {
		case <-ctx.Done():
			p.Terminate()
		case <-p.done:
		}
	}()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitCode = ExitCode(p.cmd.ProcessState, err)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = errors.Wrap(err, "wait for workload")
	}
	p.closeLog()
	close(p.done)
}

func (p *Process) closeLog() {
	if p.logFile != nil {
		_ = p.logFile.Close()
	}
}

// Pid returns the workload's pid, which is also its process group id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Argv returns the command line the workload was started with
func (p *Process) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Done is closed when the workload has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the workload exits or ctx is done and returns its
// exit code. Death by signal N is reported as 128+N, as shells do.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Signal sends sig to the workload's process group
func (p *Process) Signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := syscall.Kill(-p.Pid(), sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return errors.Wrapf(err, "signal workload group %d", p.Pid())
	}
	return nil
}

// Terminate sends SIGTERM to the process group and SIGKILL after the grace
// period. It returns once the workload has exited. Safe to call repeatedly.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		p.log.Infow("Terminating workload", "pid", p.Pid(), "grace", p.grace.String())
		if err := p.Signal(syscall.SIGTERM); err != nil {
			p.log.Warnw("Failed to signal workload", "error", err)
		}

		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}

		p.log.Warnw("Workload ignored SIGTERM, killing", "pid", p.Pid(), "grace", p.grace.String())
		if err := p.Signal(syscall.SIGKILL); err != nil {
			p.log.Errorw("Failed to kill workload", "error", err)
		}
	})
	<-p.done
}

// ExitCode maps a finished process to a shell-style exit status
func ExitCode(state *os.ProcessState, err error) int {
	if state == nil {
		if err != nil {
			return 1
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
