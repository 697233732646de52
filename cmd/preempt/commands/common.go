package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/preempt/config"
	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/journal"
	"github.com/teranos/preempt/logger"
	"github.com/teranos/preempt/slurm"
)

// Global flags, bound by the root command
var (
	ConfigPath string
	Verbosity  int
	Quiet      bool
	JSONLogs   bool
	NoColor    bool
)

// ExitError carries the exit status main should use, for run passing
// through the workload's exit code
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// RegisterGlobalFlags adds the shared persistent flags to root
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&ConfigPath, "config", "c", "", "Config file (skips the preempt.toml cascade)")
	root.PersistentFlags().CountVarP(&Verbosity, "verbose", "v", "Increase output verbosity (-v debug, -vv trace)")
	root.PersistentFlags().BoolVarP(&Quiet, "quiet", "q", false, "Only log warnings and errors")
	root.PersistentFlags().BoolVar(&JSONLogs, "json-logs", false, "Log JSON lines instead of text")
	root.PersistentFlags().BoolVar(&NoColor, "no-color", false, "Disable colored log output")
}

// InitLogging initializes the global logger from flags and the [log] section.
// A config that fails to load is reported later by the command that needs it.
func InitLogging() error {
	opts := logger.Options{
		JSON:      JSONLogs,
		Verbosity: Verbosity,
		NoColor:   NoColor,
	}
	if Quiet {
		opts.Verbosity = logger.VerbosityQuiet
	}
	if cfg, err := loadConfig(); err == nil {
		opts.JSON = opts.JSON || cfg.Log.JSON
		opts.NoColor = opts.NoColor || cfg.Log.NoColor
	}
	if err := logger.InitializeWithOptions(opts); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		return config.LoadFromFile(ConfigPath)
	}
	return config.Load()
}

func newSlurmClient(cfg *config.Config, log *zap.SugaredLogger) (*slurm.Client, error) {
	return slurm.NewClient(slurm.Config{
		Scontrol: cfg.Requeue.Scontrol,
		Sbatch:   cfg.Requeue.Sbatch,
		DryRun:   cfg.Requeue.DryRun,
	}, slurm.WithLogger(log))
}

// jobIDFromArgs takes the job id from the first argument or SLURM_JOB_ID
func jobIDFromArgs(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if id := os.Getenv("SLURM_JOB_ID"); id != "" {
		return id, nil
	}
	return "", errors.WithHint(errors.ErrNoJob, "pass a job id or run inside a Slurm allocation")
}

// resolvePath anchors relative paths at base
func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// openJournal opens the configured journal, or returns nil when disabled
func openJournal(cfg *config.Config, log *zap.SugaredLogger) (*sql.DB, error) {
	if cfg.Journal.Path == "" {
		return nil, nil
	}
	path := resolvePath(cfg.Workload.OutputDir, cfg.Journal.Path)
	db, err := journal.OpenWithMigrations(path, log)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return db, nil
}

func withTimeout(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.RequeueTimeout())
}
