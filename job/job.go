// Package job holds the per-run collection of build troves a driver
// processes together: their identity, the status publisher they share,
// and the accumulator of binaries produced so far in the run.
package job

import (
	"fmt"
	"sort"

	"rmakedrv/recipe"
	"rmakedrv/trove"
)

// Job is a user-submitted set of recipes to be built together. The Job
// owns its BuildTroves in a map keyed by identity (spec.md 9: "the Job
// owns its BuildTroves in a map keyed by (n,v,f); publishers hold weak
// back-references resolved through the Job").
type Job struct {
	JobID     int64
	Troves    map[recipe.Triple]*trove.BuildTrove
	Publisher trove.Publisher

	// Specs retains each recipe's original declaration (build-requirement
	// source expressions, kind) for the worker facade's Resolve call,
	// which needs more than the BuildTrove's resolved-at-runtime fields.
	Specs map[recipe.Triple]recipe.Spec

	// BuiltTroves accumulates every binary produced during this job, in
	// the order it was produced, including prebuilt matches.
	BuiltTroves []recipe.Triple

	// order preserves recipe insertion order for deterministic iteration
	// independent of map order.
	order []recipe.Triple

	Failed bool
	FailureReason string
}

// New constructs a Job with one BuildTrove per spec, each started in
// INIT and immediately Loaded (spec.md 4.1 step 3: loading yields one
// BuildTrove per recipe).
func New(jobID int64, specs []recipe.Spec, pub trove.Publisher) (*Job, error) {
	if pub == nil {
		pub = trove.NopPublisher{}
	}
	j := &Job{
		JobID:     jobID,
		Troves:    make(map[recipe.Triple]*trove.BuildTrove, len(specs)),
		Specs:     make(map[recipe.Triple]recipe.Spec, len(specs)),
		Publisher: pub,
	}
	for _, spec := range specs {
		if _, exists := j.Troves[spec.Triple]; exists {
			return nil, fmt.Errorf("job %d: duplicate recipe %s", jobID, spec.Triple)
		}
		tr := trove.New(jobID, spec, pub)
		if err := tr.Load(); err != nil {
			return nil, err
		}
		j.Troves[spec.Triple] = tr
		j.Specs[spec.Triple] = spec
		j.order = append(j.order, spec.Triple)
	}
	return j, nil
}

// OrderedTroves returns every trove in the job in deterministic (insertion)
// order, used wherever iteration order must be reproducible for tests.
func (j *Job) OrderedTroves() []*trove.BuildTrove {
	out := make([]*trove.BuildTrove, 0, len(j.order))
	for _, tr := range j.order {
		out = append(out, j.Troves[tr])
	}
	return out
}

// SanityCheck applies spec.md 4.1 step 5: a solitary recipe (redirect or
// fileset) may not share a job with any other recipe; a group recipe
// alongside non-group recipes is allowed but experimental.
//
// On a solitary-composition violation, every solitary trove is marked
// FAILED with the documented reason, the job is marked failed, and the
// (false, reason) sanity verdict is returned. The caller must not
// dispatch any work in that case.
func (j *Job) SanityCheck(warnGroupMix func()) (bool, string) {
	if len(j.Troves) > 1 {
		var solitary []*trove.BuildTrove
		for _, tr := range j.OrderedTroves() {
			if tr.Solitary() {
				solitary = append(solitary, tr)
			}
		}
		if len(solitary) > 0 {
			const reason = "trove failed sanity check: redirect and fileset packages must be alone in their own job"
			for _, tr := range solitary {
				_ = tr.HandleFailed(reason) // INIT/LOADED are non-terminal; safe to mark directly
			}
			j.Failed = true
			j.FailureReason = reason
			return false, reason
		}
	}

	hasGroup, hasOther := false, false
	for _, tr := range j.OrderedTroves() {
		if tr.IsGroup {
			hasGroup = true
		} else {
			hasOther = true
		}
	}
	if hasGroup && hasOther && warnGroupMix != nil {
		warnGroupMix()
	}

	return true, ""
}

// PriorTrove is a built recipe recorded by a previous job, consulted for
// prebuilt-artifact reuse (spec.md 4.1 step 4, GLOSSARY "jobContext").
type PriorTrove struct {
	Triple            recipe.Triple
	Binaries          []recipe.Triple
	BuildRequirements []recipe.Triple
	// RequirementsSource records which policy produced BuildRequirements,
	// per SPEC_FULL.md's Open Question decision: this repo always uses
	// "first", matching the original source.
	RequirementsSource string
}

// PriorJob is one entry of jobContext: the built troves of a previously
// run job, most-recent first within the overall jobContext slice.
type PriorJob struct {
	JobID  int64
	Troves []PriorTrove
}

// MatchPrebuilt iterates prior jobs in reverse chronological order
// (spec.md 4.1 step 4) and marks every trove in j whose identity matches
// a previously built recipe as PREBUILT, recording its binaries and
// recorded build-requirements. First match wins: once a trove is matched
// against a more recent prior job, later (older) jobs are not consulted
// for it.
func (j *Job) MatchPrebuilt(jobContext []PriorJob) {
	remaining := make(map[recipe.Triple]bool, len(j.Troves))
	for t := range j.Troves {
		remaining[t] = true
	}

	// Iterate prior jobs reverse-chronological: jobContext is documented
	// as a list of prior job records; callers supply it already ordered
	// most-recent-first, but we defensively sort by JobID descending so
	// "first match wins" is well-defined regardless of caller order.
	ordered := make([]PriorJob, len(jobContext))
	copy(ordered, jobContext)
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].JobID > ordered[b].JobID })

	for _, prior := range ordered {
		if len(remaining) == 0 {
			return
		}
		for _, pt := range prior.Troves {
			if !remaining[pt.Triple] {
				continue
			}
			tr := j.Troves[pt.Triple]
			if err := tr.MarkPrebuilt(pt.Binaries, pt.BuildRequirements); err != nil {
				continue
			}
			delete(remaining, pt.Triple)
		}
	}
}

// ResolvePrebuilt transitions every PREBUILT trove to BUILT and appends
// its binaries to BuiltTroves, without consuming a worker slot (spec.md
// 3). Called once during driver initialization, after MatchPrebuilt.
func (j *Job) ResolvePrebuilt() error {
	for _, tr := range j.OrderedTroves() {
		if tr.State != trove.Prebuilt {
			continue
		}
		if err := tr.ResolvePrebuilt(); err != nil {
			return err
		}
		j.RecordBuilt(tr.BinaryTroves)
	}
	return nil
}

// RecordBuilt appends newly produced binaries to the job's accumulator.
func (j *Job) RecordBuilt(binaries []recipe.Triple) {
	j.BuiltTroves = append(j.BuiltTroves, binaries...)
}

// AvailableBinaries returns the set of binaries built so far in this job,
// suitable for intersecting against a trove's unsatisfied build
// requirements (spec.md 4.2).
func (j *Job) AvailableBinaries() map[recipe.Triple]bool {
	out := make(map[recipe.Triple]bool, len(j.BuiltTroves))
	for _, b := range j.BuiltTroves {
		out[b] = true
	}
	return out
}

// Passed reports whether every trove reached BUILT and no failures
// occurred (spec.md 4.2 jobPassed).
func (j *Job) Passed() bool {
	if j.Failed {
		return false
	}
	for _, tr := range j.Troves {
		if tr.State != trove.Built {
			return false
		}
	}
	return true
}

// AllTerminal reports whether every trove has reached a terminal state.
func (j *Job) AllTerminal() bool {
	for _, tr := range j.Troves {
		if !tr.State.Terminal() {
			return false
		}
	}
	return true
}
