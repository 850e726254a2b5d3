package trove

import (
	"fmt"

	"rmakedrv/recipe"
)

// BuildTrove is the in-memory representation of a recipe undergoing build
// in a job (spec.md 3). All mutation happens on the driver's goroutine:
// either directly, while the trove is owned, or from an event handler,
// while it is disowned. No lock guards these fields; the owned/disowned
// discipline statically partitions mutation rights (spec.md 5).
type BuildTrove struct {
	Triple recipe.Triple
	JobID  int64
	State  State

	BuildRequirements map[recipe.Triple]bool
	CrossRequirements map[recipe.Triple]bool
	BinaryTroves      []recipe.Triple
	FailureReason     string

	LogPath    string
	ChrootHost string
	PID        int

	IsGroup    bool
	IsRedirect bool
	IsFileset  bool
	IsDelayed  bool

	owned     bool
	publisher Publisher
}

// New creates a BuildTrove in INIT state for the given job, not yet owned
// by anything in particular (ownership starts meaningful once Load runs).
func New(jobID int64, spec recipe.Spec, pub Publisher) *BuildTrove {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &BuildTrove{
		Triple:            spec.Triple,
		JobID:             jobID,
		State:             Init,
		BuildRequirements: make(map[recipe.Triple]bool),
		CrossRequirements: make(map[recipe.Triple]bool),
		IsGroup:           spec.Kind == recipe.KindGroup,
		IsRedirect:        spec.Kind == recipe.KindRedirect,
		IsFileset:         spec.Kind == recipe.KindFileset,
		IsDelayed:         spec.IsDelayed,
		owned:             true,
		publisher:         pub,
	}
}

// Solitary reports whether this trove is a redirect or fileset recipe,
// which must build alone in its job (spec.md 3, 4.1).
func (t *BuildTrove) Solitary() bool {
	return t.IsRedirect || t.IsFileset
}

// Owned reports whether the trove is currently mutable in-process.
func (t *BuildTrove) Owned() bool { return t.owned }

// Disown hands the trove to a worker. Must be called immediately before
// dispatching a resolve or build command (spec.md 3, 4.3).
func (t *BuildTrove) Disown() {
	t.owned = false
}

// Own reclaims the trove for driver-side mutation. Called by the event
// handler on every inbound event that transitions the trove back toward
// the driver's control (spec.md 4.3, 4.5).
func (t *BuildTrove) Own() {
	t.owned = true
}

func (t *BuildTrove) transition(s State, kind EventKind, detail string) {
	t.State = s
	t.publish(kind, detail)
}

func (t *BuildTrove) publish(kind EventKind, detail string) {
	t.publisher.Publish(Event{Kind: kind, JobID: t.JobID, Triple: t.Triple, State: t.State, Detail: detail})
	if !specificEvents[kind] {
		t.publisher.Publish(Event{Kind: EventStateUpdated, JobID: t.JobID, Triple: t.Triple, State: t.State, Detail: detail})
	}
}

// Load transitions INIT -> LOADED once the recipe source has been parsed.
func (t *BuildTrove) Load() error {
	if t.State != Init {
		return fmt.Errorf("trove %s: Load called from state %s", t.Triple, t.State)
	}
	t.transition(Loaded, EventStateUpdated, "")
	return nil
}

// EnqueueResolve transitions LOADED -> RESOLVING and disowns the trove, as
// it is about to be dispatched to a worker (spec.md 4.1 resolveIfReady).
func (t *BuildTrove) EnqueueResolve(chrootHost string) error {
	if t.State != Loaded {
		return fmt.Errorf("trove %s: EnqueueResolve called from state %s", t.Triple, t.State)
	}
	t.ChrootHost = chrootHost
	t.Disown()
	t.transition(Resolving, EventResolving, chrootHost)
	return nil
}

// HandleResolved transitions RESOLVING -> RESOLVED on a TROVE_RESOLVED
// event, records the resolved build-requirements, and re-owns the trove.
func (t *BuildTrove) HandleResolved(buildReqs, crossReqs []recipe.Triple) error {
	if t.State != Resolving {
		return fmt.Errorf("trove %s: HandleResolved called from state %s", t.Triple, t.State)
	}
	for _, r := range buildReqs {
		t.BuildRequirements[r] = true
	}
	for _, r := range crossReqs {
		t.CrossRequirements[r] = true
	}
	t.transition(Resolved, EventResolved, fmt.Sprintf("%d build reqs", len(buildReqs)))
	t.Own()
	return nil
}

// MarkQueued transitions RESOLVED -> QUEUED and disowns the trove, as it
// is about to be dispatched to a chroot for building (spec.md 4.1
// dispatchBuild).
func (t *BuildTrove) MarkQueued(reason string) error {
	if t.State != Resolved {
		return fmt.Errorf("trove %s: MarkQueued called from state %s", t.Triple, t.State)
	}
	t.transition(Queued, EventStateUpdated, reason)
	t.Disown()
	return nil
}

// HandleResolving records the chroot host assigned to an in-flight
// resolve command. The state transition to RESOLVING already happened
// synchronously in EnqueueResolve when the driver dispatched the
// command; this event only supplies which chroot host picked it up
// (spec.md 4.5: "record chroot host").
func (t *BuildTrove) HandleResolving(chrootHost string) error {
	t.ChrootHost = chrootHost
	t.publish(EventResolving, chrootHost)
	return nil
}

// HandlePreparingChroot records the chroot host and log path for a
// QUEUED/BUILDING trove without changing state (spec.md 4.5: "no state
// change; recipe still disowned").
func (t *BuildTrove) HandlePreparingChroot(chrootHost, logPath string) error {
	t.ChrootHost = chrootHost
	t.LogPath = logPath
	t.publish(EventPreparingChroot, chrootHost)
	return nil
}

// HandleBuilding transitions QUEUED -> BUILDING, recording the log path
// and pid of the in-chroot build server.
func (t *BuildTrove) HandleBuilding(logPath string, pid int) error {
	if t.State != Queued && t.State != Preparing {
		return fmt.Errorf("trove %s: HandleBuilding called from state %s", t.Triple, t.State)
	}
	t.LogPath = logPath
	t.PID = pid
	t.transition(Building, EventBuilding, fmt.Sprintf("pid=%d", pid))
	return nil
}

// HandleBuilt transitions BUILDING (or PREBUILT, via ResolvePrebuilt during
// job initialization) -> BUILT, recording the binaries produced and
// re-owning the trove.
func (t *BuildTrove) HandleBuilt(binaries []recipe.Triple) error {
	if t.State != Building && t.State != Prebuilt {
		return fmt.Errorf("trove %s: HandleBuilt called from state %s", t.Triple, t.State)
	}
	if len(binaries) == 0 {
		return fmt.Errorf("trove %s: HandleBuilt requires a non-empty binary set", t.Triple)
	}
	t.BinaryTroves = binaries
	t.transition(Built, EventBuilt, fmt.Sprintf("%d binaries", len(binaries)))
	t.Own()
	return nil
}

// HandleFailed transitions any non-terminal state -> FAILED, recording
// the failure reason and re-owning the trove (spec.md 4.3: "at any
// non-terminal state: event:failed -> FAILED").
func (t *BuildTrove) HandleFailed(reason string) error {
	if t.State.Terminal() {
		return fmt.Errorf("trove %s: HandleFailed called from terminal state %s", t.Triple, t.State)
	}
	if reason == "" {
		return fmt.Errorf("trove %s: HandleFailed requires a non-empty reason", t.Triple)
	}
	t.FailureReason = reason
	t.transition(Failed, EventFailed, reason)
	t.Own()
	return nil
}

// MarkUnbuildable transitions any non-terminal state -> UNBUILDABLE, used
// by the dependency handler's cycle detection (spec.md 4.2, 7). Resolution
// failures do not come through here: the worker reports them as
// TROVE_FAILED events.
func (t *BuildTrove) MarkUnbuildable(reason string) error {
	if t.State.Terminal() {
		return fmt.Errorf("trove %s: MarkUnbuildable called from terminal state %s", t.Triple, t.State)
	}
	t.FailureReason = reason
	t.transition(Unbuildable, EventStateUpdated, reason)
	return nil
}

// MarkPrebuilt is reachable only during job initialization, via matching
// against prior job context (spec.md 3). It short-circuits straight to a
// trove that behaves as already built.
func (t *BuildTrove) MarkPrebuilt(binaries []recipe.Triple, buildReqs []recipe.Triple) error {
	if t.State != Init && t.State != Loaded {
		return fmt.Errorf("trove %s: MarkPrebuilt called from state %s", t.Triple, t.State)
	}
	t.BinaryTroves = binaries
	for _, r := range buildReqs {
		t.BuildRequirements[r] = true
	}
	t.transition(Prebuilt, EventStateUpdated, "prebuilt match")
	return nil
}

// ResolvePrebuilt transitions PREBUILT -> BUILT during job initialization
// (job.ResolvePrebuilt, right after prior-job matching) without
// consuming a worker slot (spec.md 3: "thereafter state moves to BUILT
// without consuming a worker slot").
func (t *BuildTrove) ResolvePrebuilt() error {
	if t.State != Prebuilt {
		return fmt.Errorf("trove %s: ResolvePrebuilt called from state %s", t.Triple, t.State)
	}
	return t.HandleBuilt(t.BinaryTroves)
}

// UnsatisfiedBuildRequirements returns the subset of BuildRequirements not
// present in the given set of available binaries (external repository
// contents union binaries built so far in this job).
func (t *BuildTrove) UnsatisfiedBuildRequirements(available map[recipe.Triple]bool) []recipe.Triple {
	var out []recipe.Triple
	for r := range t.BuildRequirements {
		if !available[r] {
			out = append(out, r)
		}
	}
	return out
}
