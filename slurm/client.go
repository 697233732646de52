// Package slurm adapts the Slurm command-line tools (scontrol, sbatch) to the
// interfaces preempt needs. Commands are configured as shell-style strings so
// sites can wrap them ("ssh head scontrol", "sudo -u slurm scontrol").
package slurm

import (
	"context"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/preempt/errors"
)

// Config configures the scheduler commands.
type Config struct {
	Scontrol string
	Sbatch   string
	DryRun   bool
}

// DefaultConfig uses the tools on PATH.
func DefaultConfig() Config {
	return Config{Scontrol: "scontrol", Sbatch: "sbatch"}
}

// Client runs scheduler commands.
type Client struct {
	scontrol []string
	sbatch   []string
	runner   Runner
	dryRun   bool
	log      *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the process runner (tests use a fake).
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithLogger sets the client's logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient parses the configured commands.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	scontrol, err := splitCommand("scontrol", cfg.Scontrol)
	if err != nil {
		return nil, err
	}
	sbatch, err := splitCommand("sbatch", cfg.Sbatch)
	if err != nil {
		return nil, err
	}

	c := &Client{
		scontrol: scontrol,
		sbatch:   sbatch,
		runner:   ExecRunner{},
		dryRun:   cfg.DryRun,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func splitCommand(name, command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		command = name
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse %s command %q", name, command), errors.ErrInvalidConfig)
	}
	return argv, nil
}

// Requeue asks the scheduler to requeue jobID. Implements preempt.Requeuer.
// Failures are marked ErrRequeueFailed; a missed deadline is also ErrTimeout.
func (c *Client) Requeue(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.RequeueFailed(errors.New("empty job id"))
	}

	argv := append(append([]string{}, c.scontrol...), "requeue", jobID)
	if c.dryRun {
		c.log.Infow("Dry run, requeue not sent", "command", shellquote.Join(argv...), "job_id", jobID)
		return nil
	}

	start := time.Now()
	_, stderr, err := c.run(ctx, argv)
	if err != nil {
		return errors.RequeueFailed(err)
	}

	c.log.Debugw("Requeue accepted by scheduler",
		"job_id", jobID,
		"duration_ms", time.Since(start).Milliseconds(),
		"stderr", strings.TrimSpace(string(stderr)))
	return nil
}

// ShowJob returns the scheduler's view of jobID.
func (c *Client) ShowJob(ctx context.Context, jobID string) (*JobInfo, error) {
	argv := append(append([]string{}, c.scontrol...), "show", "job", "-o", jobID)
	stdout, _, err := c.run(ctx, argv)
	if err != nil {
		return nil, err
	}
	return ParseJobInfo(string(stdout))
}

// Submit submits a batch script and returns the new job id.
func (c *Client) Submit(ctx context.Context, scriptPath string, extraArgs ...string) (string, error) {
	argv := append(append([]string{}, c.sbatch...), "--parsable")
	argv = append(argv, extraArgs...)
	argv = append(argv, scriptPath)

	if c.dryRun {
		c.log.Infow("Dry run, batch script not submitted", "command", shellquote.Join(argv...))
		return "", nil
	}

	stdout, _, err := c.run(ctx, argv)
	if err != nil {
		return "", err
	}
	return ParseSubmitOutput(string(stdout))
}

func (c *Client) run(ctx context.Context, argv []string) ([]byte, []byte, error) {
	c.log.Debugw("Running scheduler command", "command", shellquote.Join(argv...))

	stdout, stderr, err := c.runner.Run(ctx, argv[0], argv[1:]...)
	if err == nil {
		return stdout, stderr, nil
	}

	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = strings.TrimSpace(string(stdout))
	}
	wrapped := errors.Wrapf(err, "%s", shellquote.Join(argv...))
	if msg != "" {
		wrapped = errors.Wrapf(err, "%s: %s", shellquote.Join(argv...), msg)
		wrapped = errors.WithDetail(wrapped, msg)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		wrapped = errors.Mark(wrapped, errors.ErrTimeout)
	}
	return stdout, stderr, wrapped
}

// ParseSubmitOutput extracts the job id from `sbatch --parsable` output
// ("12345" or "12345;cluster").
func ParseSubmitOutput(out string) (string, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	line := strings.TrimSpace(lines[len(lines)-1])
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	if line == "" || strings.ContainsAny(line, " \t") {
		return "", errors.Newf("unexpected sbatch output %q", out)
	}
	return line, nil
}
