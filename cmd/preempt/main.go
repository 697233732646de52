package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/preempt/cmd/preempt/commands"
	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/logger"
)

var rootCmd = &cobra.Command{
	Use:   "preempt",
	Short: "preempt - requeue Slurm jobs before preemption",
	Long: `preempt - requeue Slurm jobs before preemption.

preempt supervises a long-running workload inside a Slurm allocation. When
the scheduler warns that the job is about to be preempted or hit its time
limit, preempt requeues the job so the workload resumes from its last
checkpoint.

Available commands:
  run      - Run the workload under the preemption handler
  render   - Render the sbatch script for the workload
  submit   - Render and submit the sbatch script
  requeue  - Requeue a job by hand
  status   - Show scheduler state and preemption history
  config   - Inspect configuration

Examples:
  preempt submit                # submit the configured workload
  preempt status 4242           # what happened to job 4242
  preempt config where          # which preempt.toml files were read`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.InitLogging()
	},
}

func init() {
	commands.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.RenderCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.RequeueCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err == nil {
		return
	}

	var exit *commands.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintln(os.Stderr, "Hint:", hint)
	}
	os.Exit(1)
}
