// Package chroot builds and tears down the isolated root filesystems that
// in-chroot build servers run inside (spec.md 4.4). Grounded on
// original_source/rmake's rootfactory.py (AbstractChroot, BaseChroot,
// ConaryBasedRoot) and the teacher's environment/environment.go backend
// registry plus environment/bsd/bsd.go's mount table and device-node
// handling, generalized from "one fixed BSD chroot recipe" to a
// capability-flagged builder that a Factory drives through a fixed
// lifecycle for any Capabilities value.
package chroot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"rmakedrv/cscache"
	"rmakedrv/pkgclient"
)

// Mounter performs and reverses the filesystem operations Scaffold needs.
// Grounded on mount/mount.go's Mount/Unmount pair, generalized from a
// fixed BSD mount-type bitmask to the Mount/MountType value type in
// capabilities.go so the same Factory works against any backend.
type Mounter interface {
	Mount(m Mount, basePath string) error
	Unmount(m Mount, basePath string) error
}

// Factory builds and destroys Root instances per a fixed Capabilities
// value (spec.md 4.4: "Clean -> Install -> Scaffold -> Users/Groups ->
// Device Nodes -> Start -> Teardown"). One Factory is normally held per
// distinct build environment (e.g. per target label), mirroring the
// teacher's one-backend-per-label environment.Registry entries.
type Factory struct {
	Root         string // parent directory under which roots are created
	Caps         Capabilities
	Mounter      Mounter
	Launcher     Launcher
	DeviceNodes  []string // device paths to mknod under Target's /dev, privileged only

	// Client and Cache back the install step's changeset handling
	// (spec.md 4.4 step 2). Both may be nil, in which case install
	// skips Caps.Changesets entirely (test-mode Factories that only
	// exercise host-file copying never set them).
	Client pkgclient.Client
	Cache  *cscache.Cache

	mu       sync.Mutex
	children map[int]*Root // pid -> root, for Destroy's cleanup sweep
}

// NewFactory constructs a Factory. rootDir is the parent directory each
// build's chroot tree is created under (e.g. /var/rmakedrv/chroots).
// client and cache may be nil if this Factory's Capabilities never set
// Changesets (e.g. test-mode factories).
func NewFactory(rootDir string, caps Capabilities, mounter Mounter, launcher Launcher, client pkgclient.Client, cache *cscache.Cache) *Factory {
	return &Factory{
		Root:     rootDir,
		Caps:     caps,
		Mounter:  mounter,
		Launcher: launcher,
		Client:   client,
		Cache:    cache,
		children: make(map[int]*Root),
	}
}

// Create runs the full lifecycle through Start and returns a live Root.
// name should uniquely identify this build (conventionally the recipe
// triple's string form) so concurrent builds don't collide on BasePath.
func (f *Factory) Create(ctx context.Context, name string, logWriter io.Writer) (*Root, error) {
	basePath := filepath.Join(f.Root, name)

	if err := f.clean(basePath); err != nil {
		return nil, fmt.Errorf("chroot: clean %s: %w", basePath, err)
	}
	if err := f.install(basePath, logWriter); err != nil {
		return nil, fmt.Errorf("chroot: install %s: %w", basePath, err)
	}
	if err := f.scaffold(basePath); err != nil {
		return nil, fmt.Errorf("chroot: scaffold %s: %w", basePath, err)
	}
	if err := f.spliceUsersGroups(basePath); err != nil {
		return nil, fmt.Errorf("chroot: users/groups %s: %w", basePath, err)
	}
	if f.Caps.Privileged {
		if err := f.deviceNodes(basePath); err != nil {
			return nil, fmt.Errorf("chroot: device nodes %s: %w", basePath, err)
		}
	}

	root := &Root{
		BasePath:   basePath,
		SocketPath: socketPathFor(basePath),
		LogWriter:  logWriter,
	}

	if err := f.start(ctx, root); err != nil {
		return nil, fmt.Errorf("chroot: start %s: %w", basePath, err)
	}

	f.mu.Lock()
	f.children[root.PID] = root
	f.mu.Unlock()

	return root, nil
}

// clean removes any stale tree left from a previous run at this path
// (spec.md 4.4 step 1).
func (f *Factory) clean(basePath string) error {
	return os.RemoveAll(basePath)
}

// install creates the base directory tree, applies Capabilities.
// Changesets through the package client (consulting the changeset cache
// to avoid re-downloading, per spec.md 4.4 step 2), and copies in the
// host files Capabilities.HostFilesToCopy names (spec.md 4.4 step 3).
func (f *Factory) install(basePath string, logWriter io.Writer) error {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return err
	}

	total := len(f.Caps.Changesets)
	for i, id := range f.Caps.Changesets {
		fmt.Fprintf(logWriter, "installing %d of %d: %s\n", i+1, total, id)
		if err := f.applyChangeset(id, basePath); err != nil {
			return fmt.Errorf("install changeset %s: %w", id, err)
		}
	}

	for _, hostFile := range f.Caps.HostFilesToCopy {
		if err := copyHostFile(hostFile, filepath.Join(basePath, hostFile)); err != nil {
			return fmt.Errorf("copy %s: %w", hostFile, err)
		}
	}
	return nil
}

// applyChangeset fetches id (from Cache if present, else Client, caching
// the result for next time) and applies it into basePath.
func (f *Factory) applyChangeset(id, basePath string) error {
	if f.Client == nil {
		return fmt.Errorf("no package client configured")
	}

	if f.Cache != nil {
		if rc, err := f.Cache.Open(id); err == nil {
			defer rc.Close()
			return f.Client.ApplyChangeset(rc, basePath)
		}
	}

	data, err := f.Client.FetchChangeset(id)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if f.Cache == nil {
		return f.Client.ApplyChangeset(data, basePath)
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read fetched changeset: %w", err)
	}
	if err := f.Cache.Store(id, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return f.Client.ApplyChangeset(bytes.NewReader(buf), basePath)
}

func copyHostFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil // optional host files (e.g. resolv.conf in some test envs)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// scaffold performs Capabilities.Mounts in order (spec.md 4.4 step 3,
// generalized from environment/bsd/bsd.go's 27-entry fixed table to a
// configuration-driven list).
func (f *Factory) scaffold(basePath string) error {
	for _, m := range f.Caps.Mounts {
		target := filepath.Join(basePath, m.Target)
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		if f.Mounter != nil {
			if err := f.Mounter.Mount(m, basePath); err != nil {
				return fmt.Errorf("mount %s -> %s: %w", m.Source, m.Target, err)
			}
		}
		// Applied after mounting: a tmpfs mount's root takes on the
		// filesystem's default mode regardless of what the pre-mount
		// directory was chmod'd to, so the sticky/setuid bits spec.md
		// 4.4 step 3 calls for (notably /tmp and /var/tmp as 01777)
		// must be set last.
		if m.Mode != 0 {
			if err := os.Chmod(target, m.Mode); err != nil {
				return fmt.Errorf("chmod %s: %w", m.Target, err)
			}
		}
	}
	return nil
}

// spliceUsersGroups appends Capabilities.Users/Groups into the root's
// /etc/passwd and /etc/group (and Users into /etc/shadow when
// Privileged), preserving whatever install copied in (spec.md 4.4 step 4).
func (f *Factory) spliceUsersGroups(basePath string) error {
	if len(f.Caps.Users) > 0 {
		if err := appendLines(filepath.Join(basePath, "etc", "passwd"), passwdLines(f.Caps.Users)); err != nil {
			return err
		}
	}
	if f.Caps.Privileged && len(f.Caps.Users) > 0 {
		shadow := make([]string, len(f.Caps.Users))
		for i, u := range f.Caps.Users {
			shadow[i] = fmt.Sprintf("%s:*:::::::", u.Name)
		}
		if err := appendLines(filepath.Join(basePath, "etc", "shadow"), shadow); err != nil {
			return err
		}
	}
	if len(f.Caps.Groups) > 0 {
		if err := appendLines(filepath.Join(basePath, "etc", "group"), groupLines(f.Caps.Groups)); err != nil {
			return err
		}
	}
	return nil
}

func passwdLines(users []UserEntry) []string {
	lines := make([]string, len(users))
	for i, u := range users {
		lines[i] = fmt.Sprintf("%s:*:%d:%d::%s:%s", u.Name, u.UID, u.GID, u.Home, u.Shell)
	}
	return lines
}

func groupLines(groups []GroupEntry) []string {
	lines := make([]string, len(groups))
	for i, g := range groups {
		lines[i] = fmt.Sprintf("%s:*:%d:", g.Name, g.GID)
	}
	return lines
}

func appendLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l); err != nil {
			return err
		}
	}
	return nil
}

// deviceNodes mknods the configured device files under <root>/dev,
// privileged mode only (spec.md 4.4 step 5).
func (f *Factory) deviceNodes(basePath string) error {
	devDir := filepath.Join(basePath, "dev")
	if err := os.MkdirAll(devDir, 0755); err != nil {
		return err
	}
	for _, dev := range f.DeviceNodes {
		target := filepath.Join(devDir, filepath.Base(dev))
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := mknodLike(target, dev); err != nil {
			return fmt.Errorf("mknod %s: %w", target, err)
		}
	}
	return nil
}

// start launches the in-chroot build server and waits for its control
// socket to appear, polling every 100ms up to Capabilities.SocketWait
// (180s default), then pings it within PingTimeout (60s default)
// (spec.md 4.4 step 6, 5).
func (f *Factory) start(ctx context.Context, root *Root) error {
	pid, err := f.Launcher.Start(f.Caps, root)
	if err != nil {
		return err
	}
	root.PID = pid

	deadline := time.Now().Add(f.Caps.SocketWait)
	for {
		if f.Launcher.SocketExists(root.SocketPath) {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("control socket did not appear within %s", f.Caps.SocketWait)
		}
		if !f.Launcher.Alive(pid) {
			return fmt.Errorf("build server pid %d exited before its control socket appeared", pid)
		}
		time.Sleep(100 * time.Millisecond)
	}

	client, err := f.Launcher.Dial(root.SocketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	root.client = client

	pingCtx, cancel := context.WithTimeout(ctx, f.Caps.PingTimeout)
	defer cancel()
	if err := root.Ping(pingCtx); err != nil {
		return fmt.Errorf("initial ping failed: %w", err)
	}
	root.started = time.Now()
	return nil
}

// Teardown stops the build server gracefully, escalating to a kill
// signal if it has not exited within StopTimeout (40s default, polled
// every 100ms), unmounts everything scaffold mounted, and removes the
// root's directory tree (spec.md 4.4 step 7).
func (f *Factory) Teardown(ctx context.Context, root *Root) error {
	stopCtx, cancel := context.WithTimeout(ctx, f.Caps.StopTimeout)
	_ = root.Stop(stopCtx)
	cancel()

	deadline := time.Now().Add(f.Caps.StopTimeout)
	for f.Launcher.Alive(root.PID) {
		if time.Now().After(deadline) {
			_ = f.Launcher.Signal(root.PID, syscall.SIGKILL)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if f.Mounter != nil {
		for i := len(f.Caps.Mounts) - 1; i >= 0; i-- {
			_ = f.Mounter.Unmount(f.Caps.Mounts[i], root.BasePath)
		}
	}

	f.mu.Lock()
	delete(f.children, root.PID)
	f.mu.Unlock()

	return os.RemoveAll(root.BasePath)
}

// Destroy tears down every outstanding root this Factory created, in
// case the driver is exiting with builds still in flight (spec.md 4.4's
// concurrency note: "destruction of the factory cleans all outstanding
// children").
func (f *Factory) Destroy(ctx context.Context) []error {
	f.mu.Lock()
	roots := make([]*Root, 0, len(f.children))
	for _, r := range f.children {
		roots = append(roots, r)
	}
	f.mu.Unlock()

	var errs []error
	for _, r := range roots {
		if err := f.Teardown(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
