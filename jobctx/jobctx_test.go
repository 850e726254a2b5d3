package jobctx

import (
	"path/filepath"
	"testing"

	"rmakedrv/job"
	"rmakedrv/recipe"
	"rmakedrv/trove"

	"github.com/stretchr/testify/require"
)

func newBuiltJob(t *testing.T, jobID int64, name string) *job.Job {
	t.Helper()
	tripleA := recipe.Triple{Name: name, Version: recipe.Version{Revision: "1.0"}}
	j, err := job.New(jobID, []recipe.Spec{{Triple: tripleA, Kind: recipe.KindNormal}}, nil)
	require.NoError(t, err)

	tr := j.Troves[tripleA]
	require.NoError(t, tr.EnqueueResolve(""))
	require.NoError(t, tr.HandleResolved(nil, nil))
	require.NoError(t, tr.MarkQueued("waiting"))
	require.NoError(t, tr.HandlePreparingChroot("host", "/chroot"))
	require.NoError(t, tr.HandleBuilding("/chroot/build.log", 123))
	bin := recipe.Triple{Name: name + "-bin", Version: tripleA.Version}
	require.NoError(t, tr.HandleBuilt([]recipe.Triple{bin}))
	require.Equal(t, trove.Built, tr.State)
	return j
}

func TestRecordAndLoadContext(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobctx.db")
	store, err := Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	j1 := newBuiltJob(t, 1, "a")
	j2 := newBuiltJob(t, 2, "b")

	require.NoError(t, store.RecordJob(j1))
	require.NoError(t, store.RecordJob(j2))

	ctx, err := store.LoadContext(0)
	require.NoError(t, err)
	require.Len(t, ctx, 2)
	// Most-recent first.
	require.Equal(t, int64(2), ctx[0].JobID)
	require.Equal(t, int64(1), ctx[1].JobID)
	require.Len(t, ctx[0].Troves, 1)
	require.Equal(t, "b", ctx[0].Troves[0].Triple.Name)
}

func TestLoadContextRespectsLimit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobctx.db")
	store, err := Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.RecordJob(newBuiltJob(t, i, "x")))
	}

	ctx, err := store.LoadContext(2)
	require.NoError(t, err)
	require.Len(t, ctx, 2)
	require.Equal(t, int64(5), ctx[0].JobID)
	require.Equal(t, int64(4), ctx[1].JobID)
}

func TestRecordJobSkipsUnbuiltTroves(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobctx.db")
	store, err := Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	triple := recipe.Triple{Name: "failed-one", Version: recipe.Version{Revision: "1.0"}}
	j, err := job.New(1, []recipe.Spec{{Triple: triple, Kind: recipe.KindNormal}}, nil)
	require.NoError(t, err)
	require.NoError(t, j.Troves[triple].MarkUnbuildable("no requirement"))

	require.NoError(t, store.RecordJob(j))
	ctx, err := store.LoadContext(0)
	require.NoError(t, err)
	require.Len(t, ctx, 1)
	require.Empty(t, ctx[0].Troves)
}
