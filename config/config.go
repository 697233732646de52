// Package config loads preempt's configuration from preempt.toml files and
// PREEMPT_* environment variables.
package config

// Config represents the preempt configuration
type Config struct {
	Job        JobConfig        `mapstructure:"job"`
	Signals    SignalsConfig    `mapstructure:"signals"`
	Requeue    RequeueConfig    `mapstructure:"requeue"`
	Workload   WorkloadConfig   `mapstructure:"workload"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// JobConfig describes the resources requested when rendering a batch script
type JobConfig struct {
	Name         string `mapstructure:"name"`
	Partition    string `mapstructure:"partition"`
	Nodes        int    `mapstructure:"nodes"`
	TasksPerNode int    `mapstructure:"tasks_per_node"`
	GPUsPerNode  int    `mapstructure:"gpus_per_node"`
	CPUsPerTask  int    `mapstructure:"cpus_per_task"`
	Mem          string `mapstructure:"mem"`  // e.g. "480G"; empty = scheduler default
	Time         string `mapstructure:"time"` // sbatch time format, e.g. "3-00:00:00"
	Array        string `mapstructure:"array"`
	Constraint   string `mapstructure:"constraint"`
	Account      string `mapstructure:"account"`
	QOS          string `mapstructure:"qos"`
	Comment      string `mapstructure:"comment"`

	// Seconds before the time limit that the warn signal is delivered
	SignalLeadSeconds int `mapstructure:"signal_lead_seconds"`

	Output string `mapstructure:"output"` // stdout path pattern (%j, %A, %a expand)
	Error  string `mapstructure:"error"`
}

// SignalsConfig names the signals mapped to WARN and TERM
type SignalsConfig struct {
	Warn string `mapstructure:"warn"`
	Term string `mapstructure:"term"`
}

// RequeueConfig configures the scheduler commands
type RequeueConfig struct {
	Scontrol       string `mapstructure:"scontrol"`
	Sbatch         string `mapstructure:"sbatch"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DryRun         bool   `mapstructure:"dry_run"`
}

// WorkloadConfig describes the training process run under the handler
type WorkloadConfig struct {
	Command string   `mapstructure:"command"` // shell-style, e.g. "python train.py"
	Args    []string `mapstructure:"args"`

	// Hyperparameters rendered as sorted --key value flags after Args.
	// Keys are lowercased by the config loader.
	Params map[string]interface{} `mapstructure:"params"`

	// KEY=VALUE pairs. A list, not a table, so variable names keep their case.
	Env     []string `mapstructure:"env"`
	EnvFile string   `mapstructure:"env_file"`

	WorkDir      string `mapstructure:"work_dir"`
	OutputDir    string `mapstructure:"output_dir"` // launch snapshots, journal and metrics default here
	LogFile      string `mapstructure:"log_file"`   // appended across restarts; empty = inherit stdio
	Tee          bool   `mapstructure:"tee"`        // also copy workload output to our stdout/stderr
	GraceSeconds int    `mapstructure:"grace_seconds"`
}

// CheckpointConfig configures checkpoint tracking
type CheckpointConfig struct {
	Dir              string `mapstructure:"dir"` // empty = tracking disabled
	Pattern          string `mapstructure:"pattern"`
	FlushSignal      string `mapstructure:"flush_signal"` // empty = no flush before requeue
	FlushWaitSeconds int    `mapstructure:"flush_wait_seconds"`

	// A checkpoint counts once its file has seen no writes for this long
	SettleMS int `mapstructure:"settle_ms"`
}

// JournalConfig configures the sqlite event journal
type JournalConfig struct {
	Path string `mapstructure:"path"` // empty = journal disabled
}

// MetricsConfig configures the Prometheus textfile export
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // empty = no export
}

// LogConfig configures logging defaults (flags override)
type LogConfig struct {
	JSON    bool `mapstructure:"json"`
	NoColor bool `mapstructure:"no_color"`
}

// File and directory permission constants
const (
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// FileName is the configuration file name searched for at every level
const FileName = "preempt.toml"
