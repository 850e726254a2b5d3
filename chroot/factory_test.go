package chroot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"rmakedrv/cscache"
	"rmakedrv/pkgclient"

	"github.com/stretchr/testify/require"
)

// fakeControlClient is a no-op ControlClient for tests, standing in for
// the out-of-scope wire protocol (spec.md 1 Non-goals).
type fakeControlClient struct{}

func (c *fakeControlClient) Ping(ctx context.Context) error { return nil }
func (c *fakeControlClient) Stop(ctx context.Context) error { return nil }
func (c *fakeControlClient) Close() error                   { return nil }

// testLauncher simulates a build server that "starts" instantly: its
// socket exists the moment Start returns and it stays alive until
// Signal is called, so Factory tests run without forking any real
// process or touching privileged syscalls.
type testLauncher struct {
	mu      sync.Mutex
	nextPID int
	alive   map[int]bool
}

func (l *testLauncher) Start(caps Capabilities, root *Root) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.alive == nil {
		l.alive = make(map[int]bool)
		l.nextPID = 100
	}
	l.nextPID++
	pid := l.nextPID
	l.alive[pid] = true
	return pid, nil
}

func (l *testLauncher) SocketExists(socketPath string) bool { return true }

func (l *testLauncher) Dial(socketPath string) (ControlClient, error) {
	return &fakeControlClient{}, nil
}

func (l *testLauncher) Alive(pid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive[pid]
}

func (l *testLauncher) Signal(pid int, sig syscall.Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive[pid] = false
	return nil
}

func TestFactoryCreateAndTeardown(t *testing.T) {
	dir := t.TempDir()
	caps := DefaultCapabilities()
	caps.SocketWait = time.Second
	caps.StopTimeout = 150 * time.Millisecond

	launcher := &testLauncher{}
	f := NewFactory(dir, caps, nil, launcher, nil, nil)

	var buf bytes.Buffer
	root, err := f.Create(context.Background(), "pkg-a-1.0", &buf)
	require.NoError(t, err)
	require.DirExists(t, root.BasePath)
	require.NotZero(t, root.PID)

	f.mu.Lock()
	_, tracked := f.children[root.PID]
	f.mu.Unlock()
	require.True(t, tracked, "factory should track the root by pid until teardown")

	require.NoError(t, f.Teardown(context.Background(), root))
	require.NoDirExists(t, root.BasePath)

	f.mu.Lock()
	_, stillTracked := f.children[root.PID]
	f.mu.Unlock()
	require.False(t, stillTracked)
}

func TestFactoryInstallConsultsChangesetCacheBeforeFetching(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()
	cache, err := cscache.Open(cacheDir)
	require.NoError(t, err)

	caps := DefaultCapabilities()
	caps.SocketWait = time.Second
	caps.StopTimeout = 150 * time.Millisecond
	caps.HostFilesToCopy = nil
	caps.Changesets = []string{"group-foo=1.0"}

	client := pkgclient.NewMock().SetChangeset("group-foo=1.0", "opaque bytes")
	f := NewFactory(dir, caps, nil, &testLauncher{}, client, cache)

	var buf bytes.Buffer
	root, err := f.Create(context.Background(), "pkg-a-1.0", &buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "installing 1 of 1: group-foo=1.0")
	require.Len(t, client.Applied, 1)
	require.Equal(t, "opaque bytes", client.Applied[0].Data)
	require.Equal(t, 1, client.FetchCount["group-foo=1.0"])
	require.True(t, cache.Has("group-foo=1.0"))
	require.NoError(t, f.Teardown(context.Background(), root))

	// A second Create for a different root must hit the cache, not
	// FetchChangeset again.
	root2, err := f.Create(context.Background(), "pkg-a-1.0-again", &buf)
	require.NoError(t, err)
	require.Equal(t, 1, client.FetchCount["group-foo=1.0"], "second install should be served from cache")
	require.NoError(t, f.Teardown(context.Background(), root2))
}

func TestScaffoldAppliesMountMode(t *testing.T) {
	dir := t.TempDir()
	caps := DefaultCapabilities()
	caps.Mounts = []Mount{
		{Type: MountTmpfs, Target: "tmp", RW: true, Mode: os.ModeSticky | 0777},
		{Type: MountBind, Target: "etc/policy"},
	}

	f := NewFactory(dir, caps, nil, &testLauncher{}, nil, nil)
	basePath := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(basePath, 0755))

	require.NoError(t, f.scaffold(basePath))

	info, err := os.Stat(filepath.Join(basePath, "tmp"))
	require.NoError(t, err)
	require.Equal(t, os.ModeSticky|0777, info.Mode()&(os.ModeSticky|os.ModePerm))

	info, err = os.Stat(filepath.Join(basePath, "etc", "policy"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0755), info.Mode().Perm(), "a zero Mode leaves the factory's default 0755 untouched")
}

func TestFactoryDestroyCleansOutstandingChildren(t *testing.T) {
	dir := t.TempDir()
	caps := DefaultCapabilities()
	caps.SocketWait = time.Second
	caps.StopTimeout = 150 * time.Millisecond

	launcher := &testLauncher{}
	f := NewFactory(dir, caps, nil, launcher, nil, nil)

	var buf bytes.Buffer
	r1, err := f.Create(context.Background(), "pkg-a-1.0", &buf)
	require.NoError(t, err)
	r2, err := f.Create(context.Background(), "pkg-b-1.0", &buf)
	require.NoError(t, err)

	errs := f.Destroy(context.Background())
	require.Empty(t, errs)
	require.NoDirExists(t, r1.BasePath)
	require.NoDirExists(t, r2.BasePath)
}
