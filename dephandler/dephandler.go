// Package dephandler tracks build-requirement satisfaction across a job
// and produces the stream of ready-to-resolve and ready-to-build work
// items the Build Driver dispatches (spec.md 4.2).
//
// Grounded on the teacher's pkg/deps.go: the teacher computes a static
// dependency graph up front and runs Kahn's algorithm once
// (pkg.GetBuildOrder); this package generalizes that into an online
// readiness computation driven by RESOLVED/BUILT events, since a
// recipe's build-requirements are not known until it resolves and a
// job's binaries accrue incrementally rather than all at once. The
// teacher's deterministic tie-break ("PortDir lexicographic") is kept
// verbatim for the buildable queue's ordering.
package dephandler

import (
	"fmt"
	"sort"

	"rmakedrv/buildererrors"
	"rmakedrv/job"
	"rmakedrv/pkgclient"
	"rmakedrv/recipe"
	"rmakedrv/trove"
)

// Handler implements spec.md 4.2's interface against one Job.
type Handler struct {
	job    *job.Job
	client pkgclient.Client

	resolveQueue     []recipe.Triple
	resolveDispatched map[recipe.Triple]bool

	// unsatisfied holds, for every RESOLVED trove not yet buildable, the
	// subset of its build-requirements not yet available.
	unsatisfied map[recipe.Triple]map[recipe.Triple]bool

	buildQueue     []recipe.Triple
	buildDispatched map[recipe.Triple]bool
}

// New creates a Handler for j. Every trove not already matched prebuilt
// is initially eligible for resolution (spec.md 4.2: "Initially every
// non-prebuilt recipe is eligible"), queued in deterministic
// (name, flavor) order.
func New(j *job.Job, client pkgclient.Client) *Handler {
	h := &Handler{
		job:               j,
		client:            client,
		resolveDispatched: make(map[recipe.Triple]bool),
		unsatisfied:       make(map[recipe.Triple]map[recipe.Triple]bool),
		buildDispatched:   make(map[recipe.Triple]bool),
	}

	var eligible []recipe.Triple
	for _, tr := range j.OrderedTroves() {
		if tr.State == trove.Loaded {
			eligible = append(eligible, tr.Triple)
		}
	}
	sortTriples(eligible)
	h.resolveQueue = eligible
	return h
}

func sortTriples(ts []recipe.Triple) {
	sort.Slice(ts, func(i, k int) bool {
		if ts[i].Name != ts[k].Name {
			return ts[i].Name < ts[k].Name
		}
		return ts[i].Flavor < ts[k].Flavor
	})
}

// GetNextResolveJob pops the next recipe whose build-requirements are
// ready to be computed and marks it as dispatched; the caller disowns it
// via trove.EnqueueResolve. Returns (nil, false) if none is pending.
func (h *Handler) GetNextResolveJob() (*trove.BuildTrove, bool) {
	if len(h.resolveQueue) == 0 {
		return nil, false
	}
	t := h.resolveQueue[0]
	h.resolveQueue = h.resolveQueue[1:]
	h.resolveDispatched[t] = true
	return h.job.Troves[t], true
}

// OnResolved must be called once a trove transitions to RESOLVED
// (typically from the event handler, spec.md 4.5's TROVE_RESOLVED row).
// It subtracts externally-available requirements from the trove's
// declared set; what remains is a set of intra-job dependencies on other
// recipes' outputs (spec.md 4.2). If nothing remains, the trove becomes
// immediately buildable.
func (h *Handler) OnResolved(t recipe.Triple) error {
	delete(h.resolveDispatched, t)
	tr, ok := h.job.Troves[t]
	if !ok {
		return fmt.Errorf("dephandler: OnResolved for unknown trove %s", t)
	}

	available := h.job.AvailableBinaries()
	remaining := make(map[recipe.Triple]bool)
	for req := range tr.BuildRequirements {
		if available[req] || h.client.RepositoryHasTrove(req) {
			continue
		}
		remaining[req] = true
	}

	if len(remaining) == 0 {
		h.enqueueBuildable(t)
		return nil
	}
	h.unsatisfied[t] = remaining
	return nil
}

func (h *Handler) enqueueBuildable(t recipe.Triple) {
	delete(h.unsatisfied, t)
	h.buildQueue = append(h.buildQueue, t)
	sortTriples(h.buildQueue)
}

// OnBuilt must be called once a trove reaches BUILT (or a PREBUILT trove
// resolves to BUILT during initialization). It re-examines every pending
// trove's unsatisfied set against the job's now-larger available-binary
// set; any that clear become buildable (spec.md 4.2).
func (h *Handler) OnBuilt(binaries []recipe.Triple) {
	produced := make(map[recipe.Triple]bool, len(binaries))
	for _, b := range binaries {
		produced[b] = true
	}

	var newlyReady []recipe.Triple
	for t, remaining := range h.unsatisfied {
		for req := range remaining {
			if produced[req] {
				delete(remaining, req)
			}
		}
		if len(remaining) == 0 {
			newlyReady = append(newlyReady, t)
		}
	}
	sortTriples(newlyReady)
	for _, t := range newlyReady {
		h.enqueueBuildable(t)
	}
}

// HasBuildable reports whether at least one trove is ready to build.
func (h *Handler) HasBuildable() bool {
	return len(h.buildQueue) > 0
}

// PopBuildable returns the next buildable trove in deterministic order
// plus its resolved build- and cross-requirements (spec.md 4.2).
func (h *Handler) PopBuildable() (*trove.BuildTrove, []recipe.Triple, []recipe.Triple, bool) {
	if len(h.buildQueue) == 0 {
		return nil, nil, nil, false
	}
	t := h.buildQueue[0]
	h.buildQueue = h.buildQueue[1:]
	h.buildDispatched[t] = true

	tr := h.job.Troves[t]
	buildReqs := make([]recipe.Triple, 0, len(tr.BuildRequirements))
	for r := range tr.BuildRequirements {
		buildReqs = append(buildReqs, r)
	}
	sortTriples(buildReqs)
	crossReqs := make([]recipe.Triple, 0, len(tr.CrossRequirements))
	for r := range tr.CrossRequirements {
		crossReqs = append(crossReqs, r)
	}
	sortTriples(crossReqs)

	return tr, buildReqs, crossReqs, true
}

// OnDispatchComplete must be called when a dispatched build's terminal
// event (BUILT or FAILED) is observed, clearing its in-flight marker.
func (h *Handler) OnDispatchComplete(t recipe.Triple) {
	delete(h.buildDispatched, t)
}

// outstandingWork reports whether any resolve or build command is
// currently dispatched to a worker and awaiting a reply.
func (h *Handler) outstandingWork() int {
	return len(h.resolveDispatched) + len(h.buildDispatched)
}

// MoreToDo reports whether at least one recipe is neither terminal nor
// permanently stuck (spec.md 4.2). When no recipe is buildable or
// resolvable and no worker work is outstanding, this performs cycle
// detection: every remaining non-terminal trove is unreachable and is
// marked UNBUILDABLE with a reason naming the cycle members (spec.md
// 4.2, 7 DependencyCycle).
func (h *Handler) MoreToDo() bool {
	pending := h.pendingNonTerminal()
	if len(pending) == 0 {
		return false
	}
	if h.HasBuildable() {
		return true
	}
	if len(h.resolveQueue) > 0 {
		return true
	}
	if h.outstandingWork() > 0 {
		return true
	}

	h.markCycle(pending)
	return len(h.pendingNonTerminal()) > 0
}

func (h *Handler) pendingNonTerminal() []recipe.Triple {
	var out []recipe.Triple
	for _, tr := range h.job.OrderedTroves() {
		if !tr.State.Terminal() {
			out = append(out, tr.Triple)
		}
	}
	return out
}

func (h *Handler) markCycle(pending []recipe.Triple) {
	names := make([]string, 0, len(pending))
	for _, t := range pending {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	reason := (&buildererrors.DependencyCycle{Members: names}).Error()

	for _, t := range pending {
		tr := h.job.Troves[t]
		_ = tr.MarkUnbuildable(reason)
		delete(h.unsatisfied, t)
	}
}

// JobPassed reports whether every trove in the job is terminal and none
// failed (spec.md 4.2).
func (h *Handler) JobPassed() bool {
	return h.job.Passed()
}
