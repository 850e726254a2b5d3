package worker

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"rmakedrv/chroot"
	"rmakedrv/event"
	"rmakedrv/pkgclient"
	"rmakedrv/recipe"
	"rmakedrv/trove"

	"github.com/stretchr/testify/require"
)

type fakeClient struct{}

func (c *fakeClient) Ping(ctx context.Context) error { return nil }
func (c *fakeClient) Stop(ctx context.Context) error { return nil }
func (c *fakeClient) Close() error                   { return nil }

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
	return &fakeClient{}, nil
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

type fakeExecutor struct {
	binaries []recipe.Triple
	err      error
}

func (e *fakeExecutor) Execute(ctx context.Context, root *chroot.Root, tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, builtTroves []recipe.Triple) ([]recipe.Triple, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.binaries, nil
}

type collectingHandler struct {
	mu     sync.Mutex
	events []event.WorkerEvent
}

func (h *collectingHandler) Apply(ev event.WorkerEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *collectingHandler) kinds() []trove.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]trove.EventKind, len(h.events))
	for i, e := range h.events {
		out[i] = e.Kind
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLocalBuildTroveSuccess(t *testing.T) {
	caps := chroot.DefaultCapabilities()
	caps.SocketWait = time.Second
	caps.StopTimeout = 50 * time.Millisecond
	factory := chroot.NewFactory(t.TempDir(), caps, nil, &fakeLauncher{}, nil, nil)

	bin := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0-1"}}
	executor := &fakeExecutor{binaries: []recipe.Triple{bin}}
	handler := &collectingHandler{}

	l := NewLocal(1, pkgclient.NewMock(), factory, executor, handler, nil, 2)

	tri := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	tr := trove.New(1, recipe.Spec{Triple: tri, Kind: recipe.KindNormal}, nil)

	require.NoError(t, l.BuildTrove(tr, nil, nil, "x86_64", "", 0, nil))
	waitUntil(t, func() bool {
		l.HandleRequestIfReady()
		return len(handler.kinds()) == 3
	})
	require.Equal(t, []trove.EventKind{trove.EventPreparingChroot, trove.EventBuilding, trove.EventBuilt}, handler.kinds())
}

func TestLocalResolveSuccess(t *testing.T) {
	tri := recipe.Triple{Name: "a", Version: recipe.Version{Revision: "1.0"}}
	spec := recipe.Spec{Triple: tri, Kind: recipe.KindNormal}
	client := pkgclient.NewMock().SetResolution(tri, []recipe.Triple{{Name: "b"}}, nil)
	handler := &collectingHandler{}

	l := NewLocal(1, client, nil, nil, handler, func(t recipe.Triple) (recipe.Spec, bool) {
		if t == tri {
			return spec, true
		}
		return recipe.Spec{}, false
	}, 2)

	tr := trove.New(1, spec, nil)
	require.NoError(t, l.Resolve(tr))
	waitUntil(t, func() bool {
		l.HandleRequestIfReady()
		return len(handler.kinds()) == 2
	})
	require.Equal(t, []trove.EventKind{trove.EventResolving, trove.EventResolved}, handler.kinds())
}

func TestLocalStopAllCommands(t *testing.T) {
	l := NewLocal(1, pkgclient.NewMock(), nil, nil, &collectingHandler{}, nil, 1)
	l.StopAllCommands() // must return promptly with nothing in flight
}
