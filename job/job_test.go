package job

import (
	"testing"

	"rmakedrv/recipe"
	"rmakedrv/trove"

	"github.com/stretchr/testify/require"
)

func spec(name string, kind recipe.Kind) recipe.Spec {
	return recipe.Spec{
		Triple: recipe.Triple{Name: name, Version: recipe.Version{Revision: "1.0"}},
		Kind:   kind,
	}
}

func TestSanityCheckSoloRedirectPasses(t *testing.T) {
	j, err := New(1, []recipe.Spec{spec("redirect-pkg", recipe.KindRedirect)}, nil)
	require.NoError(t, err)

	ok, reason := j.SanityCheck(nil)
	require.True(t, ok)
	require.Empty(t, reason)
	require.False(t, j.Failed)
}

func TestSanityCheckRedirectPlusOrdinaryFails(t *testing.T) {
	j, err := New(1, []recipe.Spec{
		spec("redirect-pkg", recipe.KindRedirect),
		spec("ordinary", recipe.KindNormal),
	}, nil)
	require.NoError(t, err)

	ok, reason := j.SanityCheck(nil)
	require.False(t, ok)
	require.Contains(t, reason, "must be alone in their own job")
	require.True(t, j.Failed)

	redirectTrove := j.Troves[recipe.Triple{Name: "redirect-pkg", Version: recipe.Version{Revision: "1.0"}}]
	require.Equal(t, trove.Failed, redirectTrove.State)

	ordinaryTrove := j.Troves[recipe.Triple{Name: "ordinary", Version: recipe.Version{Revision: "1.0"}}]
	require.Equal(t, trove.Loaded, ordinaryTrove.State, "non-solitary recipes are left in non-running states, not dispatched")
}

func TestSanityCheckGroupMixWarns(t *testing.T) {
	j, err := New(1, []recipe.Spec{
		spec("group-pkg", recipe.KindGroup),
		spec("ordinary", recipe.KindNormal),
	}, nil)
	require.NoError(t, err)

	warned := false
	ok, _ := j.SanityCheck(func() { warned = true })
	require.True(t, ok)
	require.True(t, warned)
}

func TestMatchPrebuiltFirstWins(t *testing.T) {
	j, err := New(1, []recipe.Spec{spec("a", recipe.KindNormal)}, nil)
	require.NoError(t, err)

	aTriple := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	binNew := recipe.Triple{Name: "a-bin", Version: recipe.Version{Revision: "1.0"}}
	binOld := recipe.Triple{Name: "a-bin-old", Version: recipe.Version{Revision: "0.9"}}

	j.MatchPrebuilt([]PriorJob{
		{JobID: 5, Troves: []PriorTrove{{Triple: aTriple, Binaries: []recipe.Triple{binOld}}}},
		{JobID: 9, Troves: []PriorTrove{{Triple: aTriple, Binaries: []recipe.Triple{binNew}}}},
	})

	tr := j.Troves[aTriple]
	require.Equal(t, trove.Prebuilt, tr.State)
	require.Equal(t, []recipe.Triple{binNew}, tr.BinaryTroves, "most recent prior job (highest JobID) must win")
}

func TestResolvePrebuiltReachesBuiltWithSameBinaries(t *testing.T) {
	j, err := New(1, []recipe.Spec{spec("a", recipe.KindNormal)}, nil)
	require.NoError(t, err)
	aTriple := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	bin := recipe.Triple{Name: "a-bin", Version: recipe.Version{Revision: "1.0"}}

	j.MatchPrebuilt([]PriorJob{{JobID: 1, Troves: []PriorTrove{{Triple: aTriple, Binaries: []recipe.Triple{bin}}}}})
	require.NoError(t, j.ResolvePrebuilt())

	tr := j.Troves[aTriple]
	require.Equal(t, trove.Built, tr.State)
	require.Equal(t, []recipe.Triple{bin}, tr.BinaryTroves)
	require.Contains(t, j.BuiltTroves, bin)
}

func TestJobPassedRequiresAllBuiltAndNoFailure(t *testing.T) {
	j, err := New(1, []recipe.Spec{spec("a", recipe.KindNormal)}, nil)
	require.NoError(t, err)
	require.False(t, j.Passed())

	aTriple := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	tr := j.Troves[aTriple]
	require.NoError(t, tr.EnqueueResolve(""))
	require.NoError(t, tr.HandleResolved(nil, nil))
	require.NoError(t, tr.MarkQueued(""))
	require.NoError(t, tr.HandleBuilding("", 1))
	require.NoError(t, tr.HandleBuilt([]recipe.Triple{aTriple}))

	require.True(t, j.Passed())
}

func TestDuplicateRecipeRejected(t *testing.T) {
	_, err := New(1, []recipe.Spec{spec("a", recipe.KindNormal), spec("a", recipe.KindNormal)}, nil)
	require.Error(t, err)
}
