package config

import (
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/job"
	"github.com/teranos/preempt/preempt"
)

// Validate checks that the configuration is valid.
// Errors are marked errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, err := preempt.BindingsFromNames(c.Signals.Warn, c.Signals.Term); err != nil {
		return errors.Mark(errors.Wrap(err, "signals"), errors.ErrInvalidConfig)
	}

	// Requeue timeout: zero would fail every requeue
	if c.Requeue.TimeoutSeconds <= 0 {
		return errors.NewInvalidConfigError("requeue.timeout_seconds must be > 0, got %d", c.Requeue.TimeoutSeconds)
	}
	for name, command := range map[string]string{"requeue.scontrol": c.Requeue.Scontrol, "requeue.sbatch": c.Requeue.Sbatch} {
		if _, err := shellquote.Split(command); err != nil {
			return errors.NewInvalidConfigError("%s: %v", name, err)
		}
	}

	if c.Workload.GraceSeconds < 0 {
		return errors.NewInvalidConfigError("workload.grace_seconds must be >= 0, got %d", c.Workload.GraceSeconds)
	}
	for _, kv := range c.Workload.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return errors.NewInvalidConfigError("workload.env entry %q is not KEY=VALUE", kv)
		}
	}

	if c.Checkpoint.FlushSignal != "" {
		if _, err := preempt.ParseSignal(c.Checkpoint.FlushSignal); err != nil {
			return errors.Mark(errors.Wrap(err, "checkpoint.flush_signal"), errors.ErrInvalidConfig)
		}
	}
	if c.Checkpoint.SettleMS < 0 {
		return errors.NewInvalidConfigError("checkpoint.settle_ms must be >= 0, got %d", c.Checkpoint.SettleMS)
	}
	if c.Checkpoint.FlushWaitSeconds < 0 {
		return errors.NewInvalidConfigError("checkpoint.flush_wait_seconds must be >= 0, got %d", c.Checkpoint.FlushWaitSeconds)
	}

	if _, err := c.Resources(); err != nil {
		return err
	}
	return nil
}

// ValidateWorkload additionally requires a workload command, needed by
// run, render and submit but not by the status or requeue commands.
func (c *Config) ValidateWorkload() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Workload.Command) == "" {
		return errors.WithHint(
			errors.NewInvalidConfigError("workload.command is empty"),
			"set [workload] command in preempt.toml or PREEMPT_WORKLOAD_COMMAND")
	}
	if _, err := shellquote.Split(c.Workload.Command); err != nil {
		return errors.NewInvalidConfigError("workload.command: %v", err)
	}
	return nil
}

// Resources converts the [job] section into scheduler resources
func (c *Config) Resources() (job.Resources, error) {
	j := c.Job
	if j.Nodes < 1 {
		return job.Resources{}, errors.NewInvalidConfigError("job.nodes must be >= 1, got %d", j.Nodes)
	}
	if j.TasksPerNode < 1 {
		return job.Resources{}, errors.NewInvalidConfigError("job.tasks_per_node must be >= 1, got %d", j.TasksPerNode)
	}
	if j.GPUsPerNode < 0 || j.CPUsPerTask < 0 {
		return job.Resources{}, errors.NewInvalidConfigError("job.gpus_per_node and job.cpus_per_task must be >= 0")
	}

	res := job.Resources{
		Nodes:        j.Nodes,
		TasksPerNode: j.TasksPerNode,
		GPUsPerNode:  j.GPUsPerNode,
		CPUsPerTask:  j.CPUsPerTask,
		Partition:    j.Partition,
	}

	if j.Mem != "" {
		mb, err := job.ParseMemory(j.Mem)
		if err != nil {
			return job.Resources{}, errors.Mark(errors.Wrap(err, "job.mem"), errors.ErrInvalidConfig)
		}
		res.MemoryMB = mb
	}
	if j.Time != "" {
		limit, err := job.ParseTimeLimit(j.Time)
		if err != nil {
			return job.Resources{}, errors.Mark(errors.Wrap(err, "job.time"), errors.ErrInvalidConfig)
		}
		res.TimeLimit = limit
	}

	// The warning has to arrive before the limit, with time left to requeue
	lead := time.Duration(j.SignalLeadSeconds) * time.Second
	if lead <= 0 {
		return job.Resources{}, errors.NewInvalidConfigError("job.signal_lead_seconds must be > 0, got %d", j.SignalLeadSeconds)
	}
	if res.TimeLimit > 0 && lead >= res.TimeLimit {
		return job.Resources{}, errors.NewInvalidConfigError("job.signal_lead_seconds (%s) must be shorter than job.time (%s)", lead, j.Time)
	}
	if lead < time.Duration(c.Requeue.TimeoutSeconds)*time.Second {
		return job.Resources{}, errors.NewInvalidConfigError(
			"job.signal_lead_seconds (%d) is shorter than requeue.timeout_seconds (%d)", j.SignalLeadSeconds, c.Requeue.TimeoutSeconds)
	}
	return res, nil
}

// RequeueTimeout returns requeue.timeout_seconds as a duration
func (c *Config) RequeueTimeout() time.Duration {
	return time.Duration(c.Requeue.TimeoutSeconds) * time.Second
}

// GracePeriod returns workload.grace_seconds as a duration
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Workload.GraceSeconds) * time.Second
}

// FlushWait returns checkpoint.flush_wait_seconds as a duration
func (c *Config) FlushWait() time.Duration {
	return time.Duration(c.Checkpoint.FlushWaitSeconds) * time.Second
}

// CheckpointSettle returns checkpoint.settle_ms as a duration
func (c *Config) CheckpointSettle() time.Duration {
	return time.Duration(c.Checkpoint.SettleMS) * time.Millisecond
}
