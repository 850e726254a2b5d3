// Package buildlog provides the driver's logging facility: a per-job log
// file, a per-recipe log tailer with live subscriber fan-out, and a
// tview/tcell monitor that renders a running job's trove states. Spec.md
// §1 places "the logging facility" out of the core's scope and §4.1 only
// names the contract (redirect stdout to a job log, startTroveLogger
// obtains a host/port); this package supplies a concrete implementation of
// that contract, grounded on the teacher's log package and its
// build/ui_ncurses.go monitor.
package buildlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JobLog is the per-job log file (spec.md 4.1 step 2). driver.Run writes
// its own job-level messages into it; os.Stdout itself is not redirected,
// so output other code prints to standard output does not reach it.
// Grounded on the teacher's log.Logger (log/logger.go), which
// manages several category files per run; a job here has exactly one
// stream, so JobLog collapses that to a single synced file.
type JobLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenJobLog creates (or truncates) <dir>/<jobID>.log and writes a header
// line, mirroring the teacher's writeHeaders timestamp convention.
func OpenJobLog(dir string, jobID int64) (*JobLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("buildlog: create job log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.log", jobID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("buildlog: open job log: %w", err)
	}
	jl := &JobLog{file: f}
	fmt.Fprintf(jl.file, "job %d build log - %s\n%s\n\n", jobID, time.Now().Format(time.RFC3339), strings.Repeat("=", 70))
	return jl, nil
}

// Write implements io.Writer so a JobLog can serve as the driver's
// job-level output writer. It does not replace os.Stdout.
func (jl *JobLog) Write(p []byte) (int, error) {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	n, err := jl.file.Write(p)
	jl.file.Sync()
	return n, err
}

// Close closes the underlying file.
func (jl *JobLog) Close() error {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	return jl.file.Close()
}

var _ io.Writer = (*JobLog)(nil)
