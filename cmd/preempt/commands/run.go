package commands

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/preempt/checkpoint"
	"github.com/teranos/preempt/config"
	"github.com/teranos/preempt/errors"
	"github.com/teranos/preempt/job"
	"github.com/teranos/preempt/journal"
	"github.com/teranos/preempt/logger"
	"github.com/teranos/preempt/metrics"
	"github.com/teranos/preempt/preempt"
	"github.com/teranos/preempt/sysinfo"
	"github.com/teranos/preempt/workload"
)

// RunCmd runs the workload under the preemption handler
var RunCmd = &cobra.Command{
	Use:   "run [-- workload-args...]",
	Short: "Run the workload and requeue the job on preemption warnings",
	Long: `Run the configured workload inside the current Slurm allocation.

On the warn signal (default USR1, sent by --signal=B:USR1@<lead>) the job is
requeued with scontrol so training resumes from its last checkpoint. The
workload keeps running until the scheduler ends it. On the term signal
(default TERM) nothing is requeued and the workload is terminated.

Arguments after -- are appended to workload.args.

preempt exits with the workload's exit status.

Examples:
  preempt run                          # inside an sbatch script
  preempt run --job-id 4242 --dry-run  # try the flow outside Slurm
  preempt run -- --seed 3              # extra workload arguments`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			cfg.Requeue.DryRun = true
		}
		if err := cfg.ValidateWorkload(); err != nil {
			return err
		}
		if len(args) > 0 {
			cfg.Workload.Args = append(append([]string(nil), cfg.Workload.Args...), args...)
		}

		j, err := job.FromEnv(os.LookupEnv)
		if id, _ := cmd.Flags().GetString("job-id"); id != "" {
			j, err = &job.Job{ID: id, State: job.StateRunning}, nil
		}
		if err != nil {
			return err
		}

		// Ctrl-C in an interactive allocation; the workload has its own
		// process group and would not see it otherwise
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		code, err := runJob(ctx, cfg, j)
		if err != nil {
			return err
		}
		if code != 0 {
			return &ExitError{Code: code}
		}
		return nil
	},
}

func init() {
	RunCmd.Flags().String("job-id", "", "Job id to requeue (default $SLURM_JOB_ID)")
	RunCmd.Flags().Bool("dry-run", false, "Log requeues instead of calling scontrol")
}

// runJob supervises one run of the workload and returns its exit code
func runJob(ctx context.Context, cfg *config.Config, j *job.Job) (int, error) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	base := logger.LoggerFromContext(ctx)
	named := func(name string) *zap.SugaredLogger { return base.Named(name) }
	log := named("run").With(j.LogFields()...)

	if res, err := cfg.Resources(); err == nil {
		j.Resources = res
	}

	node, err := sysinfo.Collect(ctx)
	if err != nil {
		log.Warnw("Could not read node information", "error", err)
	} else {
		log.Infow("Run starting", node.LogFields()...)
		if warning := node.CheckMemory(j.Resources.MemoryMB); warning != "" {
			log.Warnw("Memory request does not fit this node", "warning", warning,
				"requested_mb", j.Resources.MemoryMB, "available_mb", node.MemoryAvailMB)
		}
	}

	client, err := newSlurmClient(cfg, named("slurm"))
	if err != nil {
		return 0, err
	}

	outputDir := cfg.Workload.OutputDir
	spec := workload.Spec{
		Command: cfg.Workload.Command,
		Args:    cfg.Workload.Args,
		Params:  cfg.Workload.Params,
		Env:     cfg.Workload.Env,
		EnvFile: cfg.Workload.EnvFile,
		WorkDir: cfg.Workload.WorkDir,
		LogFile: resolvePath(outputDir, cfg.Workload.LogFile),
		Tee:     cfg.Workload.Tee,
		Grace:   cfg.GracePeriod(),
	}

	opts := []preempt.Option{
		preempt.WithTimeout(cfg.RequeueTimeout()),
		preempt.WithLogger(named("preempt")),
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Textfile != "" {
		labels := prometheus.Labels{"job_id": j.ID}
		if j.IsArray() {
			labels["array_task"] = j.Label()
		}
		recorder = metrics.NewRecorder(labels)
		recorder.SetRestartCount(j.RestartCount)
		// rewrite the textfile after every event: a preempted job may be
		// killed before the run ends
		opts = append(opts,
			preempt.WithObserver(recorder),
			preempt.WithObserver(&metrics.TextfileWriter{
				Recorder: recorder,
				Path:     resolvePath(outputDir, cfg.Metrics.Textfile),
				Log:      named("metrics"),
			}))
	}

	db, err := openJournal(cfg, named("journal"))
	if err != nil {
		return 0, err
	}
	var jrnl *journal.Journal
	if db != nil {
		defer db.Close()
		jrnl = journal.New(db, runID, named("journal"))
		opts = append(opts, preempt.WithObserver(jrnl))
	}

	bindings, err := preempt.BindingsFromNames(cfg.Signals.Warn, cfg.Signals.Term)
	if err != nil {
		return 0, err
	}
	// queue signals that arrive before the listener is up; the default
	// disposition of USR1 would kill us
	early := make(chan os.Signal, 8)
	signal.Notify(early, bindings.Signals()...)
	defer signal.Stop(early)

	proc, err := workload.Start(ctx, spec, named("workload"))
	if err != nil {
		return 0, err
	}
	startedAt := time.Now()

	snap := &workload.Snapshot{RunID: runID, StartedAt: startedAt, Argv: proc.Argv(), WorkDir: spec.WorkDir, Env: spec.Env, Job: j}
	if node != nil {
		snap.Host = node.Host
	}
	if path, err := workload.WriteSnapshot(outputDir, snap); err != nil {
		log.Warnw("Failed to write launch snapshot", "error", err)
	} else {
		log.Debugw("Launch snapshot written", "file", path)
	}

	if jrnl != nil {
		if err := jrnl.StartRun(ctx, journal.Run{
			JobID: j.ID, ArrayTask: j.ArrayTaskID, RestartCount: j.RestartCount,
			Host: snap.Host, PID: proc.Pid(), StartedAt: startedAt,
		}); err != nil {
			log.Warnw("Failed to journal run start", "error", err)
		}
	}

	var tracker *checkpoint.Tracker
	if cfg.Checkpoint.Dir != "" {
		tracker, err = checkpoint.NewTracker(cfg.Checkpoint.Dir, cfg.Checkpoint.Pattern, named("checkpoint"),
			checkpoint.WithSettle(cfg.CheckpointSettle()))
		if err != nil {
			proc.Terminate()
			return 0, err
		}
		opts = append(opts, preempt.WithCheckpoints(tracker))

		if cfg.Checkpoint.FlushSignal != "" {
			sig, err := preempt.ParseSignal(cfg.Checkpoint.FlushSignal)
			if err != nil {
				proc.Terminate()
				return 0, err
			}
			opts = append(opts, preempt.WithFlusher(&checkpoint.SignalFlusher{Target: proc, Signal: sig, Tracker: tracker}, cfg.FlushWait()))
		}
	}

	handler := preempt.New(j, client, opts...)

	table := handler.Table()
	// the default termination flow: stop the workload. Terminate waits for
	// the grace period, so it must not hold up the listener.
	table[preempt.KindTerm] = preempt.Then(table[preempt.KindTerm], func(ctx context.Context) error {
		go proc.Terminate()
		return nil
	})

	// early becomes the listener's channel: a signal caught in between is
	// dispatched once, from the queue
	listener, err := preempt.ListenOn(ctx, early, bindings, table, named("signals"))
	if err != nil {
		proc.Terminate()
		return 0, err
	}
	defer listener.Stop()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	if tracker != nil {
		g.Go(func() error { return tracker.Run(gctx) })
	}

	exitCode := -1
	g.Go(func() error {
		defer stopRun()
		code, err := proc.Wait(context.Background())
		exitCode = code
		return err
	})

	waitErr := g.Wait()
	listener.Stop()

	warns, requeues, failures := handler.Stats()
	log.Infow("Run finished",
		"exit_code", exitCode,
		"state", handler.State(),
		"warns", warns,
		"requeues", requeues,
		"failures", failures,
		"duration", time.Since(startedAt).Round(time.Second).String())

	if jrnl != nil {
		if err := jrnl.EndRun(context.Background(), exitCode, time.Now()); err != nil {
			log.Warnw("Failed to journal run end", "error", err)
		}
	}
	if recorder != nil {
		recorder.SetWorkloadExit(exitCode)
		path := resolvePath(outputDir, cfg.Metrics.Textfile)
		if err := recorder.WriteTextfile(path); err != nil {
			log.Warnw("Failed to write metrics textfile", "error", err)
		}
	}

	return exitCode, waitErr
}
