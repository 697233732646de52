// Package job describes the scheduler allocation preempt is running inside.
package job

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/preempt/errors"
)

// State is the run state of the current job as seen by this process.
type State string

const (
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateRequeued    State = "requeued"
)

// Resources is the allocation the scheduler granted (or was asked for).
type Resources struct {
	Nodes        int           `toml:"nodes" json:"nodes"`
	TasksPerNode int           `toml:"tasks_per_node" json:"tasks_per_node"`
	GPUsPerNode  int           `toml:"gpus_per_node" json:"gpus_per_node"`
	CPUsPerTask  int           `toml:"cpus_per_task" json:"cpus_per_task"`
	MemoryMB     int           `toml:"memory_mb" json:"memory_mb"`
	TimeLimit    time.Duration `toml:"time_limit" json:"time_limit"`
	Partition    string        `toml:"partition" json:"partition"`
}

// Job is the scheduler job this process belongs to.
type Job struct {
	ID           string    `toml:"id" json:"id"`
	Name         string    `toml:"name,omitempty" json:"name,omitempty"`
	ArrayJobID   string    `toml:"array_job_id,omitempty" json:"array_job_id,omitempty"`
	ArrayTaskID  string    `toml:"array_task_id,omitempty" json:"array_task_id,omitempty"`
	RestartCount int       `toml:"restart_count" json:"restart_count"`
	Resources    Resources `toml:"resources" json:"resources"`
	State        State     `toml:"state" json:"state"`
}

// Lookup resolves an environment variable. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// FromEnv builds the Job from the SLURM_* variables of the batch step.
// Returns ErrNoJob when SLURM_JOB_ID is missing.
func FromEnv(lookup Lookup) (*Job, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	id := get("SLURM_JOB_ID")
	if id == "" {
		return nil, errors.WithHint(errors.ErrNoJob, "run preempt inside an sbatch allocation or pass the job id explicitly")
	}

	j := &Job{
		ID:           id,
		Name:         get("SLURM_JOB_NAME"),
		ArrayJobID:   get("SLURM_ARRAY_JOB_ID"),
		ArrayTaskID:  get("SLURM_ARRAY_TASK_ID"),
		RestartCount: atoi(get("SLURM_RESTART_COUNT")),
		State:        StateRunning,
		Resources: Resources{
			Nodes:        atoi(get("SLURM_JOB_NUM_NODES")),
			TasksPerNode: leadingInt(get("SLURM_NTASKS_PER_NODE")),
			GPUsPerNode:  atoi(get("SLURM_GPUS_ON_NODE")),
			CPUsPerTask:  atoi(get("SLURM_CPUS_PER_TASK")),
			MemoryMB:     atoi(get("SLURM_MEM_PER_NODE")),
			Partition:    get("SLURM_JOB_PARTITION"),
		},
	}
	return j, nil
}

// IsArray reports whether the job is a task of an array job.
func (j *Job) IsArray() bool {
	return j.ArrayJobID != "" && j.ArrayTaskID != ""
}

// Label is the human form of the identifier: 1234_7 for array tasks, 1234 otherwise.
func (j *Job) Label() string {
	if j.IsArray() {
		return fmt.Sprintf("%s_%s", j.ArrayJobID, j.ArrayTaskID)
	}
	return j.ID
}

// RequeueID is the identifier passed to the scheduler's requeue operation.
// Every array task has its own SLURM_JOB_ID, so this is always ID.
func (j *Job) RequeueID() string {
	return j.ID
}

// LogFields returns key/value pairs identifying the job for structured logs.
func (j *Job) LogFields() []interface{} {
	fields := []interface{}{"job_id", j.ID}
	if j.IsArray() {
		fields = append(fields, "array_task", j.Label())
	}
	if j.RestartCount > 0 {
		fields = append(fields, "restart_count", j.RestartCount)
	}
	return fields
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// leadingInt parses values like "4" or "4(x2)" as used by SLURM_NTASKS_PER_NODE.
func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return atoi(s[:end])
}
