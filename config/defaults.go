package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
// Every key needs a default so PREEMPT_* environment overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("job.name", "train")
	v.SetDefault("job.partition", "")
	v.SetDefault("job.nodes", 1)
	v.SetDefault("job.tasks_per_node", 1)
	v.SetDefault("job.gpus_per_node", 0)
	v.SetDefault("job.cpus_per_task", 0)
	v.SetDefault("job.mem", "")
	v.SetDefault("job.time", "")
	v.SetDefault("job.array", "")
	v.SetDefault("job.constraint", "")
	v.SetDefault("job.account", "")
	v.SetDefault("job.qos", "")
	v.SetDefault("job.comment", "")
	v.SetDefault("job.signal_lead_seconds", 120) // matches --signal=B:USR1@120
	v.SetDefault("job.output", "")
	v.SetDefault("job.error", "")

	v.SetDefault("signals.warn", "USR1")
	v.SetDefault("signals.term", "TERM")

	v.SetDefault("requeue.scontrol", "scontrol")
	v.SetDefault("requeue.sbatch", "sbatch")
	v.SetDefault("requeue.timeout_seconds", 10)
	v.SetDefault("requeue.dry_run", false)

	v.SetDefault("workload.command", "")
	v.SetDefault("workload.args", []string{})
	v.SetDefault("workload.env", []string{})
	v.SetDefault("workload.env_file", "")
	v.SetDefault("workload.work_dir", "")
	v.SetDefault("workload.output_dir", ".")
	v.SetDefault("workload.log_file", "")
	v.SetDefault("workload.tee", true)
	v.SetDefault("workload.grace_seconds", 30)

	v.SetDefault("checkpoint.dir", "")
	v.SetDefault("checkpoint.pattern", "*.pt")
	v.SetDefault("checkpoint.flush_signal", "")
	v.SetDefault("checkpoint.flush_wait_seconds", 30)
	v.SetDefault("checkpoint.settle_ms", 1000)

	v.SetDefault("journal.path", "")
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.json", false)
	v.SetDefault("log.no_color", false)
}
