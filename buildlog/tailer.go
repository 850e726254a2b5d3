package buildlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rmakedrv/recipe"
)

// Tailer is the driver-side per-recipe log sink: it persists
// TROVE_LOG_UPDATED text to one file per recipe and fans it out to any
// live subscribers (the monitor TUI). It implements event.LogSink.
// Grounded on the teacher's PackageLogger (log/pkglog.go), generalized
// from a file-only per-port log to a file-plus-live-subscriber log since
// spec.md 4.1's startTroveLogger exists so a running build can be tailed
// without polling the chroot filesystem.
type Tailer struct {
	dir string

	mu   sync.Mutex
	logs map[recipe.Triple]*recipeLog
}

type recipeLog struct {
	file *os.File
	subs []chan string
}

// NewTailer creates a Tailer writing per-recipe logs under dir.
func NewTailer(dir string) *Tailer {
	return &Tailer{dir: dir, logs: make(map[recipe.Triple]*recipeLog)}
}

// Open creates the backing file for t's log and writes a header, mirroring
// PackageLogger.WriteHeader. Safe to call more than once for the same
// trove; later calls are no-ops if a file is already open.
func (t *Tailer) Open(tr recipe.Triple) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rl, ok := t.logs[tr]; ok && rl.file != nil {
		return nil
	}
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("buildlog: create tailer dir: %w", err)
	}
	path := filepath.Join(t.dir, sanitize(tr.String())+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("buildlog: open recipe log: %w", err)
	}
	fmt.Fprintf(f, "%s\nbuild log: %s\nstarted: %s\n%s\n\n", strings.Repeat("=", 70), tr, time.Now().Format(time.RFC3339), strings.Repeat("=", 70))
	if rl, ok := t.logs[tr]; ok {
		rl.file = f // entry created by an earlier Subscribe
	} else {
		t.logs[tr] = &recipeLog{file: f}
	}
	return nil
}

func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", "[", "_", "]", "_", "=", "-")
	return r.Replace(s)
}

// AppendLog implements event.LogSink: it persists text to the recipe's log
// file and pushes it to every live subscriber.
func (t *Tailer) AppendLog(tr recipe.Triple, text string) {
	t.mu.Lock()
	rl, ok := t.logs[tr]
	if !ok {
		t.mu.Unlock()
		return
	}
	fmt.Fprintln(rl.file, text)
	subs := append([]chan string(nil), rl.subs...)
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- text:
		default:
		}
	}
}

// StopTailer implements event.LogSink: it closes the recipe's log file and
// its subscriber channels (spec.md 4.5: stop log tailer on TROVE_BUILT and
// TROVE_FAILED).
func (t *Tailer) StopTailer(tr recipe.Triple) {
	t.mu.Lock()
	rl, ok := t.logs[tr]
	delete(t.logs, tr)
	t.mu.Unlock()
	if !ok {
		return
	}
	for _, ch := range rl.subs {
		close(ch)
	}
	rl.file.Close()
}

// Subscribe registers a channel that receives every AppendLog call for tr
// until StopTailer fires or unsubscribe is called. The channel buffers 64
// lines; AppendLog drops a line for a subscriber whose buffer is full.
// Used by the monitor to stream a recipe's build output live.
func (t *Tailer) Subscribe(tr recipe.Triple) (ch <-chan string, unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rl, ok := t.logs[tr]
	if !ok {
		rl = &recipeLog{}
		t.logs[tr] = rl
	}
	c := make(chan string, 64)
	rl.subs = append(rl.subs, c)

	return c, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		rl, ok := t.logs[tr]
		if !ok {
			return
		}
		for i, sub := range rl.subs {
			if sub == c {
				rl.subs = append(rl.subs[:i], rl.subs[i+1:]...)
				break
			}
		}
	}
}
