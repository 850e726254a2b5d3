package worker

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"rmakedrv/buildererrors"
	"rmakedrv/chroot"
	"rmakedrv/event"
	"rmakedrv/pkgclient"
	"rmakedrv/recipe"
	"rmakedrv/trove"

	"github.com/google/uuid"
)

// BuildExecutor runs the actual in-chroot build step once a Root is
// ready. Its concrete implementation (invoking the package client's
// build machinery inside the chroot) is explicitly out of scope
// (spec.md 1 Non-goals: "actual recipe build execution inside the
// chroot"); this interface is the seam a concrete build system plugs
// into.
type BuildExecutor interface {
	Execute(ctx context.Context, root *chroot.Root, tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, builtTroves []recipe.Triple) (binaries []recipe.Triple, err error)
}

// SpecLookup resolves a triple back to the recipe.Spec the job loaded it
// from, needed for Resolve commands (the pkgclient.Client.Resolve
// signature takes a recipe.Spec, not just an identity triple).
type SpecLookup func(recipe.Triple) (recipe.Spec, bool)

// Local runs resolve and build commands in a local goroutine pool,
// grounded on the teacher's build.BuildContext/build.Worker pair
// (build/build.go): a fixed-size pool of workers draining a command
// queue, each producing a terminal outcome the driver loop picks up via
// HasResults/HandleRequestIfReady instead of polling a *pkg.Package
// status field directly.
type Local struct {
	jobID      int64
	client     pkgclient.Client
	factory    *chroot.Factory
	executor   BuildExecutor
	handler    EventHandler
	specLookup SpecLookup

	sem chan struct{} // bounds concurrent in-flight commands, like build.BuildContext's worker pool

	mu      sync.Mutex
	pending []event.WorkerEvent // completed commands awaiting HandleRequestIfReady
	inFlight int
	tailers map[recipe.Triple]context.CancelFunc

	stopCtx    context.Context
	stopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewLocal creates a Local worker backing one job. poolSize bounds how
// many resolve/build commands run concurrently, mirroring the teacher's
// configurable worker-pool size.
func NewLocal(jobID int64, client pkgclient.Client, factory *chroot.Factory, executor BuildExecutor, handler EventHandler, specLookup SpecLookup, poolSize int) *Local {
	if poolSize <= 0 {
		poolSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		jobID:      jobID,
		client:     client,
		factory:    factory,
		executor:   executor,
		handler:    handler,
		specLookup: specLookup,
		sem:        make(chan struct{}, poolSize),
		tailers:    make(map[recipe.Triple]context.CancelFunc),
		stopCtx:    ctx,
		stopCancel: cancel,
	}
}

var _ Worker = (*Local)(nil)

func (l *Local) enqueue(ev event.WorkerEvent) {
	l.mu.Lock()
	l.pending = append(l.pending, ev)
	l.inFlight--
	l.mu.Unlock()
}

func (l *Local) BuildTrove(tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, logHost string, logPort int, builtTroves []recipe.Triple) error {
	if l.factory == nil || l.executor == nil {
		return fmt.Errorf("worker: local build requires a chroot factory and a build executor")
	}

	l.mu.Lock()
	l.inFlight++
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.sem <- struct{}{}
		defer func() { <-l.sem }()

		name := fmt.Sprintf("%s-%s", tr.Triple.Name, uuid.NewString())
		var logBuf bytes.Buffer
		root, err := l.factory.Create(l.stopCtx, name, &logBuf)
		if err != nil {
			l.enqueue(event.WorkerEvent{
				Kind: trove.EventFailed, JobID: l.jobID, Triple: tr.Triple,
				Reason: (&buildererrors.ChrootFailure{Recipe: tr.Triple.Name, Diagnostic: err.Error()}).Error(),
			})
			return
		}
		defer l.factory.Teardown(context.Background(), root)

		l.enqueue(event.WorkerEvent{
			Kind: trove.EventPreparingChroot, JobID: l.jobID, Triple: tr.Triple,
			ChrootHost: name, LogPath: root.BasePath,
		})
		l.enqueue(event.WorkerEvent{
			Kind: trove.EventBuilding, JobID: l.jobID, Triple: tr.Triple,
			LogPath: root.BasePath, PID: root.PID,
		})

		binaries, err := l.executor.Execute(l.stopCtx, root, tr, buildReqs, crossReqs, targetLabel, builtTroves)
		if err != nil {
			l.enqueue(event.WorkerEvent{
				Kind: trove.EventFailed, JobID: l.jobID, Triple: tr.Triple,
				Reason: (&buildererrors.BuildFailure{Recipe: tr.Triple.Name, Detail: err.Error()}).Error(),
			})
			return
		}
		if len(binaries) == 0 {
			l.enqueue(event.WorkerEvent{
				Kind: trove.EventFailed, JobID: l.jobID, Triple: tr.Triple,
				Reason: (&buildererrors.BuildFailure{Recipe: tr.Triple.Name, Detail: "build produced no binaries"}).Error(),
			})
			return
		}
		l.enqueue(event.WorkerEvent{
			Kind: trove.EventBuilt, JobID: l.jobID, Triple: tr.Triple,
			Binaries: binaries,
		})
	}()
	return nil
}

func (l *Local) Resolve(tr *trove.BuildTrove) error {
	spec, ok := l.specLookup(tr.Triple)
	if !ok {
		return fmt.Errorf("worker: no recipe spec recorded for %s", tr.Triple)
	}

	l.mu.Lock()
	l.inFlight++
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.sem <- struct{}{}
		defer func() { <-l.sem }()

		l.enqueue(event.WorkerEvent{Kind: trove.EventResolving, JobID: l.jobID, Triple: tr.Triple, ChrootHost: "local"})

		buildReqs, crossReqs, err := l.client.Resolve(spec)
		if err != nil {
			l.enqueue(event.WorkerEvent{
				Kind: trove.EventFailed, JobID: l.jobID, Triple: tr.Triple,
				Reason: (&buildererrors.ResolutionFailure{Recipe: tr.Triple.Name, Unresolved: []string{err.Error()}}).Error(),
			})
			return
		}
		l.enqueue(event.WorkerEvent{
			Kind: trove.EventResolved, JobID: l.jobID, Triple: tr.Triple,
			BuildReqs: buildReqs, CrossReqs: crossReqs,
		})
	}()
	return nil
}

// StartTroveLogger is a no-op placeholder returning a loopback address;
// a real per-recipe log tailer is provided by the buildlog package
// (SPEC_FULL.md domain stack) and wired in by the driver.
func (l *Local) StartTroveLogger(tr *trove.BuildTrove) (string, int, error) {
	ctx, cancel := context.WithCancel(l.stopCtx)
	l.mu.Lock()
	l.tailers[tr.Triple] = cancel
	l.mu.Unlock()
	_ = ctx
	return "127.0.0.1", 0, nil
}

func (l *Local) StopTroveLogger(tr *trove.BuildTrove) {
	l.mu.Lock()
	cancel, ok := l.tailers[tr.Triple]
	delete(l.tailers, tr.Triple)
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *Local) HandleRequestIfReady() {
	l.mu.Lock()
	events := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, ev := range events {
		_ = l.handler.Apply(ev)
	}
}

func (l *Local) HasResults() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending) > 0
}

func (l *Local) StopAllCommands() {
	l.stopCancel()
	l.wg.Wait()
}
