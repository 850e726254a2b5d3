package driver

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"rmakedrv/chroot"
	"rmakedrv/job"
	"rmakedrv/pkgclient"
	"rmakedrv/recipe"
	"rmakedrv/trove"
	"rmakedrv/worker"

	"github.com/stretchr/testify/require"
)

func init() {
	idleSleep = 2 * time.Millisecond
}

type fakeControlClient struct{}

func (fakeControlClient) Ping(ctx context.Context) error { return nil }
func (fakeControlClient) Stop(ctx context.Context) error { return nil }
func (fakeControlClient) Close() error                   { return nil }

type fakeLauncher struct {
	mu    sync.Mutex
	next  int
	alive map[int]bool
}

func (l *fakeLauncher) Start(caps chroot.Capabilities, root *chroot.Root) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.alive == nil {
		l.alive = make(map[int]bool)
	}
	l.next++
	l.alive[l.next] = true
	return l.next, nil
}
func (l *fakeLauncher) SocketExists(string) bool { return true }
func (l *fakeLauncher) Dial(string) (chroot.ControlClient, error) {
	return fakeControlClient{}, nil
}
func (l *fakeLauncher) Alive(pid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive[pid]
}
func (l *fakeLauncher) Signal(pid int, sig syscall.Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive[pid] = false
	return nil
}

// mintingExecutor produces one binary named "<recipe>-bin" for whatever
// trove it is asked to build, deterministically.
type mintingExecutor struct{}

func (mintingExecutor) Execute(ctx context.Context, root *chroot.Root, tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, builtTroves []recipe.Triple) ([]recipe.Triple, error) {
	bin := recipe.Triple{Name: tr.Triple.Name + "-bin", Version: tr.Triple.Version}
	return []recipe.Triple{bin}, nil
}

func newTestFactory(t *testing.T) *chroot.Factory {
	caps := chroot.DefaultCapabilities()
	caps.SocketWait = time.Second
	caps.StopTimeout = 50 * time.Millisecond
	return chroot.NewFactory(t.TempDir(), caps, nil, &fakeLauncher{}, nil, nil)
}

func TestRunEmptyJobFails(t *testing.T) {
	client := pkgclient.NewMock()
	_, err := Run(context.Background(), 1, nil, nil, Options{
		Client: client,
		NewWorker: func(jobID int64, specLookup worker.SpecLookup, eh worker.EventHandler) worker.Worker {
			return worker.NewLocal(jobID, client, nil, nil, eh, specLookup, 1)
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Did not find any buildable troves")
}

func TestRunSanityFailsSolitaryPlusOrdinary(t *testing.T) {
	client := pkgclient.NewMock()
	redirect := recipe.Triple{Name: "compat-redirect", Version: recipe.Version{Revision: "1.0"}}
	ordinary := recipe.Triple{Name: "libfoo", Version: recipe.Version{Revision: "1.0"}}
	client.AddRecipe("redirect", recipe.Spec{Triple: redirect, Kind: recipe.KindRedirect})
	client.AddRecipe("ordinary", recipe.Spec{Triple: ordinary, Kind: recipe.KindNormal})

	j, err := Run(context.Background(), 1, []string{"redirect", "ordinary"}, nil, Options{
		Client: client,
		NewWorker: func(jobID int64, specLookup worker.SpecLookup, eh worker.EventHandler) worker.Worker {
			return worker.NewLocal(jobID, client, nil, nil, eh, specLookup, 1)
		},
	})
	require.Error(t, err)
	require.NotNil(t, j)
	require.True(t, j.Failed)
	require.Contains(t, j.FailureReason, "must be alone in their own job")
}

// TestRunLinearChain drives spec.md 8 scenario 1 through the full
// driver: A, B with B depending on A's output.
func TestRunLinearChain(t *testing.T) {
	a := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	b := recipe.Triple{Name: "b", Version: recipe.Version{Revision: "1.0"}}
	aBin := recipe.Triple{Name: "a-bin", Version: a.Version}

	client := pkgclient.NewMock()
	client.AddRecipe("a", recipe.Spec{Triple: a, Kind: recipe.KindNormal})
	client.AddRecipe("b", recipe.Spec{Triple: b, Kind: recipe.KindNormal})
	client.SetResolution(a, nil, nil)
	client.SetResolution(b, []recipe.Triple{aBin}, nil)

	factory := newTestFactory(t)

	j, err := Run(context.Background(), 1, []string{"a", "b"}, nil, Options{
		Client: client,
		NewWorker: func(jobID int64, specLookup worker.SpecLookup, eh worker.EventHandler) worker.Worker {
			return worker.NewLocal(jobID, client, factory, mintingExecutor{}, eh, specLookup, 4)
		},
	})
	require.NoError(t, err)
	require.True(t, j.Passed())
	require.Equal(t, trove.Built, j.Troves[a].State)
	require.Equal(t, trove.Built, j.Troves[b].State)
}

func TestRunPrebuiltReuse(t *testing.T) {
	a := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	b := recipe.Triple{Name: "b", Version: recipe.Version{Revision: "1.0"}}
	aBin := recipe.Triple{Name: "a-bin", Version: a.Version}

	client := pkgclient.NewMock()
	client.AddRecipe("a", recipe.Spec{Triple: a, Kind: recipe.KindNormal})
	client.AddRecipe("b", recipe.Spec{Triple: b, Kind: recipe.KindNormal})
	client.SetResolution(b, []recipe.Triple{aBin}, nil)

	factory := newTestFactory(t)
	var buildCount int
	var mu sync.Mutex
	counting := countingExecutor{inner: mintingExecutor{}, count: &buildCount, mu: &mu}

	prior := []job.PriorJob{{
		JobID: 1,
		Troves: []job.PriorTrove{
			{Triple: a, Binaries: []recipe.Triple{aBin}, RequirementsSource: "first"},
		},
	}}

	j, err := Run(context.Background(), 2, []string{"a", "b"}, prior, Options{
		Client: client,
		NewWorker: func(jobID int64, specLookup worker.SpecLookup, eh worker.EventHandler) worker.Worker {
			return worker.NewLocal(jobID, client, factory, counting, eh, specLookup, 4)
		},
	})
	require.NoError(t, err)
	require.True(t, j.Passed())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, buildCount, "only B should have consumed a worker build slot")
}

type countingExecutor struct {
	inner mintingExecutor
	count *int
	mu    *sync.Mutex
}

func (c countingExecutor) Execute(ctx context.Context, root *chroot.Root, tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, builtTroves []recipe.Triple) ([]recipe.Triple, error) {
	c.mu.Lock()
	*c.count++
	c.mu.Unlock()
	return c.inner.Execute(ctx, root, tr, buildReqs, crossReqs, targetLabel, builtTroves)
}

