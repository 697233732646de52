package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/preempt/config"
	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/logger"
	"github.com/teranos/preempt/preempt"
	"github.com/teranos/preempt/sbatch"
)

// RenderCmd prints the batch script for the configured workload
var RenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the sbatch script for the configured workload",
	Long: `Render a batch script that runs the workload under 'preempt run'.

The script requests the [job] resources, asks Slurm for the warn signal
signal_lead_seconds before the time limit, and marks the job requeueable.

Examples:
  preempt render                     # print to stdout
  preempt render -o launch.sbatch    # write an executable script`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		script, err := buildScript(cmd, cfg)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			content, err := script.String()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		}
		if err := script.WriteFile(out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
		return nil
	},
}

// SubmitCmd renders the batch script and submits it
var SubmitCmd = &cobra.Command{
	Use:   "submit [-- sbatch-args...]",
	Short: "Render the sbatch script and submit it",
	Long: `Render the batch script into the output directory and submit it with
sbatch --parsable. Arguments after -- are passed to sbatch.

Examples:
  preempt submit
  preempt submit -- --dependency=afterany:4242`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			cfg.Requeue.DryRun = true
		}
		script, err := buildScript(cmd, cfg)
		if err != nil {
			return err
		}

		path := filepath.Join(cfg.Workload.OutputDir, "launch.sbatch")
		if err := os.MkdirAll(cfg.Workload.OutputDir, config.DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "create output directory %s", cfg.Workload.OutputDir)
		}
		if err := script.WriteFile(path); err != nil {
			return err
		}

		client, err := newSlurmClient(cfg, logger.ComponentLogger("slurm"))
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd.Context(), cfg)
		defer cancel()

		jobID, err := client.Submit(ctx, path, args...)
		if err != nil {
			return errors.Wrap(err, "submit batch script")
		}
		if jobID == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Dry run, %s not submitted\n", path)
			return nil
		}
		logger.Infow("Batch job submitted", logger.FieldJobID, jobID, logger.FieldFile, path)
		fmt.Fprintln(cmd.OutOrStdout(), jobID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{RenderCmd, SubmitCmd} {
		c.Flags().String("preempt-bin", "", "preempt binary the script runs (default: this executable)")
	}
	RenderCmd.Flags().StringP("output", "o", "", "Write the script to a file instead of stdout")
	SubmitCmd.Flags().Bool("dry-run", false, "Write the script but do not call sbatch")
}

func buildScript(cmd *cobra.Command, cfg *config.Config) (*sbatch.Script, error) {
	if err := cfg.ValidateWorkload(); err != nil {
		return nil, err
	}
	res, err := cfg.Resources()
	if err != nil {
		return nil, err
	}

	bin, _ := cmd.Flags().GetString("preempt-bin")
	if bin == "" {
		if bin, err = os.Executable(); err != nil {
			bin = "preempt"
		}
	}
	command := []string{bin, "run"}
	if ConfigPath != "" {
		abs, err := filepath.Abs(ConfigPath)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve config path %s", ConfigPath)
		}
		command = append(command, "--config", abs)
	}

	warn, err := preempt.ParseSignal(cfg.Signals.Warn)
	if err != nil {
		return nil, err
	}

	workDir := cfg.Workload.WorkDir
	if workDir == "" {
		// sbatch starts in the submit directory; keep project config discovery working
		if workDir, err = os.Getwd(); err != nil {
			return nil, errors.Wrap(err, "get working directory")
		}
	}

	return &sbatch.Script{
		JobName:    cfg.Job.Name,
		Resources:  res,
		Array:      cfg.Job.Array,
		Constraint: cfg.Job.Constraint,
		Account:    cfg.Job.Account,
		QOS:        cfg.Job.QOS,
		Comment:    cfg.Job.Comment,
		Output:     cfg.Job.Output,
		Error:      cfg.Job.Error,
		WarnSignal: preempt.SignalName(warn),
		SignalLead: time.Duration(cfg.Job.SignalLeadSeconds) * time.Second,
		Command:    command,
		WorkDir:    workDir,
	}, nil
}
