// Package driver runs the top-level build loop: initialize a job,
// hand its troves to the dependency handler, then cooperatively drain
// worker events and dispatch resolve/build commands until nothing is
// left to do (spec.md 4.1). Grounded on the teacher's build.DoBuild
// top-level orchestration function (build/build.go) for the
// initialize-then-loop-then-report shape, and on
// kubernetes-test-infra's signal-forwarding idiom
// (kubetest2/pkg/process/exec.go's signal.Notify/signal.Stop pattern)
// for termination handling.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"time"

	"rmakedrv/buildererrors"
	"rmakedrv/buildlog"
	"rmakedrv/config"
	"rmakedrv/dephandler"
	"rmakedrv/event"
	"rmakedrv/job"
	"rmakedrv/pkgclient"
	"rmakedrv/recipe"
	"rmakedrv/worker"
)

// idleSleep is the 100ms yield when nothing else is runnable (spec.md
// 4.1, 5). A var rather than a const so tests can shrink it.
var idleSleep = 100 * time.Millisecond

// WorkerFactory builds the Worker facade for one job, given the event
// handler it must report completions to and a way to look its recipes'
// original specs back up for Resolve commands.
type WorkerFactory func(jobID int64, specLookup worker.SpecLookup, eventHandler worker.EventHandler) worker.Worker

// Options bundles driver.Run's non-job-shaped inputs.
type Options struct {
	Config      *config.Config
	Client      pkgclient.Client
	NewWorker   WorkerFactory
	LogSink     event.LogSink // nil -> event.DiscardLogSink
	WarnGroupMix func()       // nil -> warning line in the job log, then a 3s pause

	// OnTick, if set, is called once per main-loop iteration with the
	// job's current state, letting a monitor subcommand (cmd/monitor.go
	// lineage) drive a live progress display without polling the
	// filesystem (SPEC_FULL.md's adaptation of log/viewer.go's TUI).
	OnTick func(*job.Job)
}

// Run executes spec.md 4.1's full contract for one job: it loads
// recipes, matches jobContext for prebuilt reuse, sanity-checks the
// composition, then drives the cooperative main loop to completion.
func Run(ctx context.Context, jobID int64, portList []string, jobContext []job.PriorJob, opts Options) (j *job.Job, err error) {
	var w worker.Worker
	defer func() {
		// Any other error during build() - caught here rather than at
		// each call site, matching spec.md 7's UnexpectedException: "all
		// worker commands stopped" and the job failed with the captured
		// cause and stack.
		r := recover()
		if r == nil {
			return
		}
		if w != nil {
			w.StopAllCommands()
		}
		uerr := &buildererrors.UnexpectedException{
			Cause: fmt.Errorf("%v", r),
			Stack: string(debug.Stack()),
		}
		if j != nil {
			j.Failed = true
			j.FailureReason = uerr.Error()
		}
		err = uerr
	}()

	specs, err := opts.Client.LoadRecipes(portList)
	if err != nil {
		return nil, fmt.Errorf("driver: load recipes: %w", err)
	}

	logWriter, closeLog, err := redirectJobLog(opts.Config, jobID)
	if err != nil {
		return nil, fmt.Errorf("driver: open job log: %w", err)
	}
	defer closeLog()

	j, err = job.New(jobID, specs, nil)
	if err != nil {
		return nil, err
	}

	j.MatchPrebuilt(jobContext)
	if err := j.ResolvePrebuilt(); err != nil {
		return nil, err
	}

	warnGroupMix := opts.WarnGroupMix
	if warnGroupMix == nil {
		warnGroupMix = func() {
			fmt.Fprintln(logWriter, "warning: group recipe combined with other recipes; this combination is experimental")
			time.Sleep(3 * time.Second)
		}
	}
	if ok, reason := j.SanityCheck(warnGroupMix); !ok {
		return j, &buildererrors.SanityFailure{Reason: reason}
	}

	logSink := opts.LogSink
	if logSink == nil {
		if opts.Config != nil && opts.Config.BuildLogPath != "" {
			logSink = buildlog.NewTailer(filepath.Join(opts.Config.BuildLogPath, fmt.Sprintf("%d-troves", jobID)))
		} else {
			logSink = event.DiscardLogSink{}
		}
	}
	eventHandler := event.NewHandler(j, logSink)
	depHandler := dephandler.New(j, opts.Client)
	eventHandler.SetDepHandler(depHandler)

	specLookup := func(t recipe.Triple) (recipe.Spec, bool) {
		s, ok := j.Specs[t]
		return s, ok
	}
	w = opts.NewWorker(jobID, specLookup, eventHandler)

	stopSignals := installSignalHandler(w, j)
	defer signal.Stop(stopSignals)

	if len(j.Troves) == 0 {
		j.Failed = true
		j.FailureReason = "Did not find any buildable troves"
		return j, fmt.Errorf("driver: %s", j.FailureReason)
	}

	runLoop(ctx, depHandler, eventHandler, w, opts.Config, logSink, j, opts.OnTick)
	if opts.OnTick != nil {
		opts.OnTick(j)
	}

	if !j.Passed() {
		if j.FailureReason == "" {
			j.FailureReason = "build job had failures"
		}
		return j, fmt.Errorf("driver: %s", j.FailureReason)
	}
	return j, nil
}

// runLoop is spec.md 4.1's pseudocode, translated directly: drain
// events, then prefer a build dispatch over a resolve dispatch, sleeping
// only when neither is possible and no events are pending.
func runLoop(ctx context.Context, dh *dephandler.Handler, eh *event.Handler, w worker.Worker, cfg *config.Config, logSink event.LogSink, j *job.Job, onTick func(*job.Job)) {
	for dh.MoreToDo() {
		if ctx.Err() != nil {
			w.StopAllCommands()
			return
		}

		if onTick != nil {
			onTick(j)
		}

		w.HandleRequestIfReady()

		switch {
		case w.HasResults():
			resolveIfReady(dh, w)
		case dh.HasBuildable():
			dispatchBuild(dh, w, cfg, logSink, j)
		case resolveIfReady(dh, w):
			// work submitted; loop immediately
		default:
			time.Sleep(idleSleep)
		}
	}
}

// logOpener is implemented by log sinks that need an explicit
// "start recording this trove" call before AppendLog text arrives
// (buildlog.Tailer); sinks that don't need it (event.DiscardLogSink) are
// simply skipped.
type logOpener interface {
	Open(recipe.Triple) error
}

// dispatchBuild implements spec.md 4.1's dispatchBuild: compute the
// target label, transition to QUEUED, start a log tailer, and submit
// the build command asynchronously.
func dispatchBuild(dh *dephandler.Handler, w worker.Worker, cfg *config.Config, logSink event.LogSink, j *job.Job) {
	tr, buildReqs, crossReqs, ok := dh.PopBuildable()
	if !ok {
		return
	}

	targetLabel := targetLabelFor(tr.Triple, cfg)
	if err := tr.MarkQueued("Waiting to be assigned to chroot"); err != nil {
		return
	}

	if opener, ok := logSink.(logOpener); ok {
		_ = opener.Open(tr.Triple)
	}
	logHost, logPort, _ := w.StartTroveLogger(tr)

	var builtTroves []recipe.Triple
	if tr.IsDelayed {
		builtTroves = append([]recipe.Triple(nil), j.BuiltTroves...)
	}

	_ = w.BuildTrove(tr, buildReqs, crossReqs, targetLabel, logHost, logPort, builtTroves)
}

// resolveIfReady pops the next resolve job (if any), disowns it, and
// submits a resolve command. Returns whether work was submitted
// (spec.md 4.1).
func resolveIfReady(dh *dephandler.Handler, w worker.Worker) bool {
	tr, ok := dh.GetNextResolveJob()
	if !ok {
		return false
	}
	if err := tr.EnqueueResolve(""); err != nil {
		return false
	}
	_ = w.Resolve(tr)
	return true
}

// targetLabelFor computes a recipe's cross-compilation target label from
// its version and the configured suffix (spec.md 4.1: "policy lives in
// config").
func targetLabelFor(t recipe.Triple, cfg *config.Config) string {
	suffix := "@rmakedrv:linux"
	if cfg != nil && cfg.TargetLabelSuffix != "" {
		suffix = cfg.TargetLabelSuffix
	}
	return string(t.Version.Label) + suffix
}

// redirectJobLog opens the job's log file, mirroring spec.md 4.1 step 2:
// "redirect standard output to a job-specific log file (build-time
// output from the package client is not controllable and must be
// captured)". Backed by buildlog.JobLog (SPEC_FULL.md's logging facility).
// The returned writer receives the driver's own job-level messages;
// os.Stdout is left unchanged, so output the package client prints there
// is not captured. With no BuildLogPath configured it returns os.Stdout.
func redirectJobLog(cfg *config.Config, jobID int64) (io.Writer, func(), error) {
	if cfg == nil || cfg.BuildLogPath == "" {
		return os.Stdout, func() {}, nil
	}
	jl, err := buildlog.OpenJobLog(cfg.BuildLogPath, jobID)
	if err != nil {
		return nil, nil, err
	}
	return jl, func() { jl.Close() }, nil
}

// installSignalHandler installs SIGTERM/SIGINT handlers that stop all
// outstanding worker commands, mark the job failed with the signal
// number, and re-raise the signal with default disposition (spec.md 5
// Cancellation). Grounded on kubernetes-test-infra's signal.Notify /
// signal.Stop forwarding idiom (kubetest2/pkg/process/exec.go).
func installSignalHandler(w worker.Worker, j *job.Job) chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals()...)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		w.StopAllCommands()
		j.Failed = true
		j.FailureReason = (&buildererrors.SignalTermination{Signal: signalNumber(sig)}).Error()
		reraiseDefault(sig)
	}()
	return sigCh
}

