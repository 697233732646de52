package commands

import (
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/journal"
	"github.com/teranos/preempt/logger"
	"github.com/teranos/preempt/slurm"
)

// StatusCmd reports what the scheduler and the journal know about a job
var StatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show scheduler state and preemption history of a job",
	Long: `Show the job as the scheduler sees it (scontrol show job) together with
the runs and signals recorded in the journal.

The job id defaults to $SLURM_JOB_ID.

Examples:
  preempt status 4242
  preempt status 4242 --events 50
  preempt status 4242 --no-scheduler   # journal only, e.g. off the cluster`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		jobID, err := jobIDFromArgs(args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if skip, _ := cmd.Flags().GetBool("no-scheduler"); !skip {
			client, err := newSlurmClient(cfg, logger.ComponentLogger("slurm"))
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), cfg)
			info, err := client.ShowJob(ctx, jobID)
			cancel()
			if err != nil {
				logger.Warnw("Could not query scheduler", logger.FieldJobID, jobID, logger.FieldError, err)
			} else if err := renderJobInfo(out, info); err != nil {
				return err
			}
		}

		db, err := openJournal(cfg, logger.ComponentLogger("journal"))
		if err != nil {
			return err
		}
		if db == nil {
			fmt.Fprintln(out, "Journal disabled (set journal.path to record runs)")
			return nil
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("events")
		return renderHistory(cmd, db, jobID, limit)
	},
}

func init() {
	StatusCmd.Flags().Bool("no-scheduler", false, "Skip scontrol and only read the journal")
	StatusCmd.Flags().Int("events", 20, "Number of recent signals to show (0 for all)")
}

func renderJobInfo(w io.Writer, info *slurm.JobInfo) error {
	requeue := "no"
	if info.Requeue {
		requeue = "yes"
	}
	data := pterm.TableData{
		{"Job", info.ID},
		{"Name", info.Name},
		{"State", info.State},
		{"Reason", info.Reason},
		{"Partition", info.Partition},
		{"Nodes", info.NumNodes},
		{"Run time", info.RunTime + " / " + info.TimeLimit},
		{"Restarts", strconv.Itoa(info.RestartCount)},
		{"Requeueable", requeue},
	}
	table, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render job table")
	}
	fmt.Fprintln(w, table)
	return nil
}

func renderHistory(cmd *cobra.Command, db *sql.DB, jobID string, limit int) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	counts, err := journal.CountRequeues(ctx, db, jobID)
	if err != nil {
		return err
	}
	runs, err := journal.Runs(ctx, db, jobID)
	if err != nil {
		return err
	}
	schema, err := journal.SchemaVersion(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nJournal schema %s\n", schema)
	fmt.Fprintf(w, "Runs: %d  Requeues requested: %d  failed: %d\n\n", len(runs), counts.Requested, counts.Failed)

	if len(runs) > 0 {
		data := pterm.TableData{{"Run", "Task", "Restart", "Host", "PID", "Started", "Duration", "Exit"}}
		for _, r := range runs {
			duration, exit := "running", "-"
			if r.EndedAt != nil {
				duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			if r.ExitCode != nil {
				exit = strconv.Itoa(*r.ExitCode)
			}
			data = append(data, []string{
				shortID(r.RunID), r.ArrayTask, strconv.Itoa(r.RestartCount), r.Host,
				strconv.Itoa(r.PID), r.StartedAt.Local().Format(time.DateTime), duration, exit,
			})
		}
		table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return errors.Wrap(err, "render runs table")
		}
		fmt.Fprintln(w, table)
	}

	entries, err := journal.List(ctx, db, journal.ListOptions{JobID: jobID, Limit: limit})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No signals recorded")
		return nil
	}

	data := pterm.TableData{{"Time", "Run", "Signal", "State", "Action", "Duration", "Error"}}
	for _, e := range entries {
		data = append(data, []string{
			e.CreatedAt.Local().Format(time.DateTime), shortID(e.RunID), e.Kind, e.State,
			e.Action, (time.Duration(e.DurationMS) * time.Millisecond).String(), e.Error,
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "render events table")
	}
	fmt.Fprintln(w, table)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
