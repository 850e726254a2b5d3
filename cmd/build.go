package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"rmakedrv/buildlog"
	"rmakedrv/chroot"
	"rmakedrv/cscache"
	"rmakedrv/driver"
	"rmakedrv/job"
	"rmakedrv/jobctx"
	"rmakedrv/trove"
	"rmakedrv/worker"

	"github.com/spf13/cobra"
)

var (
	jobContextLimit int
	withMonitor     bool
)

var buildCmd = &cobra.Command{
	Use:   "build <job.json>",
	Short: "Run one build job to completion (spec.md 4.1)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().IntVar(&jobContextLimit, "job-context", 0, "how many prior jobs to load for prebuilt-reuse matching (0 = all)")
	buildCmd.Flags().BoolVar(&withMonitor, "monitor", false, "show a live trove-state monitor while the job runs")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jf, err := loadJobFile(args[0])
	if err != nil {
		return err
	}

	client, err := jf.toMockClient()
	if err != nil {
		return fmt.Errorf("build job file: %w", err)
	}

	cache, err := cscache.Open(cfg.ChangesetCacheDir)
	if err != nil {
		return fmt.Errorf("open changeset cache: %w", err)
	}

	store, err := jobctx.Open(filepath.Join(cfg.BuildLogPath, "jobctx.db"))
	if err != nil {
		return fmt.Errorf("open job context store: %w", err)
	}
	defer store.Close()

	priorJobs, err := store.LoadContext(jobContextLimit)
	if err != nil {
		return fmt.Errorf("load job context: %w", err)
	}

	caps := chroot.DefaultCapabilities()
	caps.Privileged = cfg.PrivilegedChroot
	caps.SocketWait = cfg.SocketWait()
	caps.PingTimeout = cfg.PingTimeout()
	caps.StopTimeout = cfg.StopTimeout()

	launcher := &chroot.ExecLauncher{HelperPath: cfg.ChrootHelperPath, ServerPath: cfg.BuildServerPath}
	var mounter chroot.Mounter
	if cfg.PrivilegedChroot {
		mounter = chroot.UnixMounter{}
	}
	factory := chroot.NewFactory(cfg.ChrootRoot, caps, mounter, launcher, client, cache)

	executor := &manifestExecutor{Command: cfg.BuildServerPath}
	newWorker := func(jobID int64, specLookup worker.SpecLookup, eh worker.EventHandler) worker.Worker {
		return worker.NewLocal(jobID, client, factory, executor, eh, specLookup, cfg.WorkerPoolSize)
	}

	opts := driver.Options{
		Config:    cfg,
		Client:    client,
		NewWorker: newWorker,
	}

	var monitor *buildlog.Monitor
	if withMonitor {
		monitor = buildlog.NewMonitor()
		if err := monitor.Start(); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		defer monitor.Stop()
		started := time.Now()
		opts.OnTick = func(j *job.Job) {
			monitor.UpdateFromJob(j, time.Since(started))
		}
	}

	j, runErr := driver.Run(context.Background(), jf.JobID, jf.Ports, priorJobs, opts)
	if j != nil {
		if err := store.RecordJob(j); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to record job context: %v\n", err)
		}
		printBuildSummary(cmd, j)
	}

	return runErr
}

func printBuildSummary(cmd *cobra.Command, j *job.Job) {
	counts := make(map[trove.State]int)
	for _, tr := range j.OrderedTroves() {
		counts[tr.State]++
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %d: built=%d failed=%d unbuildable=%d\n",
		j.JobID, counts[trove.Built], counts[trove.Failed], counts[trove.Unbuildable])
	if j.Failed {
		fmt.Fprintf(out, "job failed: %s\n", j.FailureReason)
	}
}
