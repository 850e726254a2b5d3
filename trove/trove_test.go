package trove

import (
	"testing"

	"rmakedrv/recipe"

	"github.com/stretchr/testify/require"
)

func triple(name string) recipe.Triple {
	return recipe.Triple{Name: name, Version: recipe.Version{Revision: "1.0"}}
}

type recordingPublisher struct {
	events []Event
}

func (r *recordingPublisher) Publish(e Event) { r.events = append(r.events, e) }

func TestLifecycleLinear(t *testing.T) {
	pub := &recordingPublisher{}
	tr := New(1, recipe.Spec{Triple: triple("a")}, pub)

	require.NoError(t, tr.Load())
	require.Equal(t, Loaded, tr.State)

	require.NoError(t, tr.EnqueueResolve("worker-1"))
	require.Equal(t, Resolving, tr.State)
	require.False(t, tr.Owned(), "invariant: RESOLVING implies disowned")

	require.NoError(t, tr.HandleResolved([]recipe.Triple{triple("b")}, nil))
	require.Equal(t, Resolved, tr.State)
	require.True(t, tr.Owned())

	require.NoError(t, tr.MarkQueued("waiting"))
	require.Equal(t, Queued, tr.State)
	require.False(t, tr.Owned())

	require.NoError(t, tr.HandleBuilding("/log/a", 1234))
	require.Equal(t, Building, tr.State)

	require.NoError(t, tr.HandleBuilt([]recipe.Triple{triple("a")}))
	require.Equal(t, Built, tr.State)
	require.True(t, tr.Owned())
	require.True(t, tr.State.Terminal())
}

func TestHandleBuiltRequiresBinaries(t *testing.T) {
	tr := New(1, recipe.Spec{Triple: triple("a")}, nil)
	require.NoError(t, tr.Load())
	require.NoError(t, tr.EnqueueResolve(""))
	require.NoError(t, tr.HandleResolved(nil, nil))
	require.NoError(t, tr.MarkQueued(""))
	require.NoError(t, tr.HandleBuilding("", 0))

	err := tr.HandleBuilt(nil)
	require.Error(t, err, "BUILT must imply non-empty binaryTroves (spec.md 3)")
	require.Equal(t, Building, tr.State, "failed transition attempt leaves state unchanged")
}

func TestFailedRequiresReason(t *testing.T) {
	tr := New(1, recipe.Spec{Triple: triple("a")}, nil)
	require.Error(t, tr.HandleFailed(""), "FAILED must imply non-empty failureReason (spec.md 3)")
}

func TestFailedFromAnyNonTerminalState(t *testing.T) {
	tr := New(1, recipe.Spec{Triple: triple("a")}, nil)
	require.NoError(t, tr.HandleFailed("build error"))
	require.Equal(t, Failed, tr.State)
	require.True(t, tr.Owned())
}

func TestNoTransitionFromTerminalState(t *testing.T) {
	tr := New(1, recipe.Spec{Triple: triple("a")}, nil)
	require.NoError(t, tr.HandleFailed("boom"))
	require.Error(t, tr.HandleFailed("again"), "no further state transition should be observed from a terminal state")
}

func TestPrebuiltResolvesToBuiltWithoutWorkerSlot(t *testing.T) {
	pub := &recordingPublisher{}
	tr := New(1, recipe.Spec{Triple: triple("a")}, pub)
	bin := []recipe.Triple{triple("a")}

	require.NoError(t, tr.MarkPrebuilt(bin, []recipe.Triple{triple("b")}))
	require.Equal(t, Prebuilt, tr.State)

	require.NoError(t, tr.ResolvePrebuilt())
	require.Equal(t, Built, tr.State)
	require.Equal(t, bin, tr.BinaryTroves)
}

func TestStateUpdatedSuppressedForSpecificEvents(t *testing.T) {
	pub := &recordingPublisher{}
	tr := New(1, recipe.Spec{Triple: triple("a")}, pub)
	require.NoError(t, tr.HandleFailed("boom"))

	var updated, failed int
	for _, e := range pub.events {
		switch e.Kind {
		case EventStateUpdated:
			updated++
		case EventFailed:
			failed++
		}
	}
	require.Equal(t, 1, failed)
	require.Equal(t, 0, updated, "TROVE_FAILED must not double-publish TROVE_STATE_UPDATED")
}

func TestUnsatisfiedBuildRequirements(t *testing.T) {
	tr := New(1, recipe.Spec{Triple: triple("b")}, nil)
	require.NoError(t, tr.Load())
	require.NoError(t, tr.EnqueueResolve(""))
	require.NoError(t, tr.HandleResolved([]recipe.Triple{triple("a")}, nil))

	unsatisfied := tr.UnsatisfiedBuildRequirements(map[recipe.Triple]bool{})
	require.Equal(t, []recipe.Triple{triple("a")}, unsatisfied)

	unsatisfied = tr.UnsatisfiedBuildRequirements(map[recipe.Triple]bool{triple("a"): true})
	require.Empty(t, unsatisfied)
}
