package event

import (
	"testing"

	"rmakedrv/job"
	"rmakedrv/recipe"
	"rmakedrv/trove"

	"github.com/stretchr/testify/require"
)

type recordingLogSink struct {
	lines   []string
	stopped []recipe.Triple
}

func (s *recordingLogSink) AppendLog(t recipe.Triple, text string) {
	s.lines = append(s.lines, text)
}

func (s *recordingLogSink) StopTailer(t recipe.Triple) {
	s.stopped = append(s.stopped, t)
}

func newTestJob(t *testing.T) (*job.Job, recipe.Triple) {
	t.Helper()
	tri := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	j, err := job.New(1, []recipe.Spec{{Triple: tri, Kind: recipe.KindNormal}}, nil)
	require.NoError(t, err)
	return j, tri
}

func TestApplyFullLifecycle(t *testing.T) {
	j, tri := newTestJob(t)
	sink := &recordingLogSink{}
	h := NewHandler(j, sink)

	require.Equal(t, trove.Loaded, j.Troves[tri].State)
	require.NoError(t, j.Troves[tri].EnqueueResolve("host1"))

	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventResolving, Triple: tri, ChrootHost: "host1"}))
	require.True(t, h.HadEvent())
	h.ResetHadEvent()
	require.False(t, h.HadEvent())

	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventResolved, Triple: tri}))
	require.Equal(t, trove.Resolved, j.Troves[tri].State)

	require.NoError(t, j.Troves[tri].MarkQueued("waiting"))
	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventPreparingChroot, Triple: tri, ChrootHost: "host1", LogPath: "/log"}))
	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventBuilding, Triple: tri, LogPath: "/log", PID: 42}))
	require.Equal(t, trove.Building, j.Troves[tri].State)

	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventLogUpdated, Triple: tri, LogText: "compiling..."}))
	require.Equal(t, []string{"compiling..."}, sink.lines)

	bin := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0-1"}}
	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventBuilt, Triple: tri, Binaries: []recipe.Triple{bin}}))
	require.Equal(t, trove.Built, j.Troves[tri].State)
	require.Contains(t, sink.stopped, tri)
	require.True(t, j.AvailableBinaries()[bin])
}

func TestApplyFailedStopsTailer(t *testing.T) {
	j, tri := newTestJob(t)
	sink := &recordingLogSink{}
	h := NewHandler(j, sink)

	require.Equal(t, trove.Loaded, j.Troves[tri].State)
	require.NoError(t, j.Troves[tri].EnqueueResolve("host1"))
	require.NoError(t, h.Apply(WorkerEvent{Kind: trove.EventFailed, Triple: tri, Reason: "build step exited 1"}))
	require.Equal(t, trove.Failed, j.Troves[tri].State)
	require.Contains(t, sink.stopped, tri)
}

func TestApplyUnknownTrove(t *testing.T) {
	j, _ := newTestJob(t)
	h := NewHandler(j, nil)
	other := recipe.Triple{Name: "missing"}
	err := h.Apply(WorkerEvent{Kind: trove.EventBuilt, Triple: other})
	require.Error(t, err)
}
