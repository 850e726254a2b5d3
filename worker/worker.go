// Package worker implements the facade the Build Driver addresses to run
// resolve and build commands without knowing whether they execute in a
// local goroutine pool or a remote fleet (spec.md 4.6). Grounded on the
// teacher's build.BuildContext/build.Worker goroutine pool (build/build.go)
// for the local case.
package worker

import (
	"rmakedrv/event"
	"rmakedrv/recipe"
	"rmakedrv/trove"
)

// Worker is the interface the driver addresses (spec.md 4.6). Exactly one
// Worker backs one running job.
type Worker interface {
	// BuildTrove submits an asynchronous build command for tr, already
	// QUEUED and disowned by the caller. builtTroves is the job's current
	// built-set, passed as additional inputs only for delayed recipes
	// (spec.md 4.1 dispatchBuild).
	BuildTrove(tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, logHost string, logPort int, builtTroves []recipe.Triple) error

	// Resolve submits an asynchronous resolve command for tr, already
	// RESOLVING and disowned by the caller.
	Resolve(tr *trove.BuildTrove) error

	// StartTroveLogger begins tailing tr's in-chroot build log and
	// returns the address other components can read it from.
	StartTroveLogger(tr *trove.BuildTrove) (logHost string, logPort int, err error)

	// StopTroveLogger stops tailing tr's log. The driver does not call
	// it; the driver-side log sink is stopped by event.Handler on
	// TROVE_BUILT and TROVE_FAILED.
	StopTroveLogger(tr *trove.BuildTrove)

	// HandleRequestIfReady drains every currently queued inbound event
	// and applies it via the event.Handler supplied at construction,
	// without blocking (spec.md 4.1, 5: "non-blocking drain of inbound").
	HandleRequestIfReady()

	// HasResults reports whether at least one completed command is
	// waiting to be turned into an event (spec.md 4.1's loop condition).
	HasResults() bool

	// StopAllCommands cancels every in-flight resolve/build command,
	// called on SIGTERM/SIGINT (spec.md 5 Cancellation).
	StopAllCommands()
}

// EventHandler is the subset of *event.Handler the worker package
// depends on, so tests can substitute a recorder.
type EventHandler interface {
	Apply(event.WorkerEvent) error
}
