package chroot

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// Root is one live isolated build environment: a mounted/scaffolded
// directory tree plus the in-chroot build server process speaking a
// control socket inside it. Grounded on original_source/rmake's
// rootfactory.py ConaryBasedRoot instance state, flattened from a class
// hierarchy into a single struct per Capabilities (chroot/capabilities.go).
type Root struct {
	BasePath   string
	SocketPath string
	LogWriter  io.Writer

	PID     int
	client  ControlClient
	started time.Time
}

// socketPathFor is the conventional control-socket location under a root,
// kept out of Capabilities since it is not something callers tune.
func socketPathFor(basePath string) string {
	return filepath.Join(basePath, "rmakedrv.sock")
}

// Ping checks the build server is alive and responsive, used by the
// driver/worker before dispatching a build command into an already
// running chroot (spec.md 4.4's ping step, reused outside of Start).
func (r *Root) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("chroot: root at %s has no control connection", r.BasePath)
	}
	return r.client.Ping(ctx)
}

// Stop requests a graceful shutdown of the in-chroot build server.
func (r *Root) Stop(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Stop(ctx)
}

// Uptime reports how long this root's build server has been running.
func (r *Root) Uptime() time.Duration {
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}
