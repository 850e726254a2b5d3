// Package trove implements the per-recipe build-trove state machine: the
// states a recipe transits from load through commit, the ownership
// protocol that lets a single-threaded driver share mutation rights with
// asynchronous workers, and the event fan-out published on every
// transition.
package trove

// State is one of the finite states a BuildTrove occupies during a job.
type State int

const (
	Init State = iota
	Loaded
	Resolving
	Resolved
	Preparing
	Building
	Built
	Failed
	Unbuildable
	Prebuilt
	Waiting
	Queued
)

var stateNames = map[State]string{
	Init:        "INIT",
	Loaded:      "LOADED",
	Resolving:   "RESOLVING",
	Resolved:    "RESOLVED",
	Preparing:   "PREPARING",
	Building:    "BUILDING",
	Built:       "BUILT",
	Failed:      "FAILED",
	Unbuildable: "UNBUILDABLE",
	Prebuilt:    "PREBUILT",
	Waiting:     "WAITING",
	Queued:      "QUEUED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal reports whether no further state transition may occur.
func (s State) Terminal() bool {
	return s == Built || s == Failed || s == Unbuildable
}

// Disowned reports whether a BuildTrove in this state must be mutated only
// via event handlers (spec.md 3, invariant 1: a trove in BUILDING,
// PREPARING, RESOLVING or QUEUED is always disowned).
func (s State) Disowned() bool {
	switch s {
	case Building, Preparing, Resolving, Queued:
		return true
	default:
		return false
	}
}
