package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/logger"
	"github.com/teranos/preempt/preempt"
)

// RequeueCmd requeues a job once, the way the handler does on a warning
var RequeueCmd = &cobra.Command{
	Use:   "requeue [job-id]",
	Short: "Requeue a job through scontrol",
	Long: `Ask the scheduler to requeue a job, with the same command, timeout and
failure classification the handler uses on a preemption warning.

The job id defaults to $SLURM_JOB_ID.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			cfg.Requeue.DryRun = true
		}

		jobID, err := jobIDFromArgs(args)
		if err != nil {
			return err
		}

		client, err := newSlurmClient(cfg, logger.ComponentLogger("slurm"))
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout(cmd.Context(), cfg)
		defer cancel()

		start := time.Now()
		if err := client.Requeue(ctx, jobID); err != nil {
			f := preempt.ClassifyFailure(err)
			logger.Errorw("Requeue failed",
				logger.FieldJobID, jobID,
				"code", f.Code,
				logger.FieldTransient, f.Transient,
				logger.FieldError, err)
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Requeue of job %s requested (%s)\n", jobID, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	RequeueCmd.Flags().Bool("dry-run", false, "Print the scontrol command instead of running it")
}
