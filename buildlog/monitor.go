package buildlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"rmakedrv/job"
	"rmakedrv/trove"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Monitor is a tview/tcell TUI that renders a job's trove states live,
// adapted from the teacher's NcursesUI (build/ui_ncurses.go), generalized
// from "ports build progress" (success/failed/skipped counts) to "trove
// state transitions" across spec.md 3's larger state set. Wired by the
// `monitor` CLI subcommand.
type Monitor struct {
	app      *tview.Application
	header   *tview.TextView
	progress *tview.TextView
	events   *tview.TextView
	layout   *tview.Flex

	mu            sync.Mutex
	eventLines    []string
	maxEventLines int
	stopped       bool
	onInterrupt   func()
}

// NewMonitor creates a Monitor. Call Start before UpdateFromJob/LogEvent.
func NewMonitor() *Monitor {
	return &Monitor{maxEventLines: 200}
}

// SetInterruptHandler registers a callback invoked when the operator quits
// the monitor (Ctrl+C or 'q'), mirroring NcursesUI.SetInterruptHandler.
func (m *Monitor) SetInterruptHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInterrupt = handler
}

// Start initializes and runs the TUI in a background goroutine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.app = tview.NewApplication()

	m.header = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignLeft)
	m.header.SetBorder(true).SetTitle(" rmakedrv job monitor ").SetTitleAlign(tview.AlignLeft)
	m.header.SetText("[yellow]Waiting for job...[white]")

	m.progress = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignLeft)
	m.progress.SetBorder(true).SetTitle(" Trove States ").SetTitleAlign(tview.AlignLeft)

	m.events = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).
		SetChangedFunc(func() { m.app.Draw() })
	m.events.SetBorder(true).SetTitle(" Log ").SetTitleAlign(tview.AlignLeft)
	m.events.SetText("No events yet...")

	m.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(m.header, 3, 0, false).
		AddItem(m.progress, 7, 0, false).
		AddItem(m.events, 0, 1, false)

	m.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		quit := ev.Key() == tcell.KeyCtrlC || (ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'))
		if !quit {
			return ev
		}
		m.app.Stop()
		m.mu.Lock()
		handler := m.onInterrupt
		m.mu.Unlock()
		if handler != nil {
			go handler()
		}
		return nil
	})

	go func() {
		_ = m.app.SetRoot(m.layout, true).EnableMouse(true).Run()
	}()
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop shuts the TUI down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.app != nil {
		m.app.Stop()
	}
}

// UpdateFromJob recomputes the per-state trove counts and redraws the
// header/progress panes. elapsed is how long the job has been running.
func (m *Monitor) UpdateFromJob(j *job.Job, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.app == nil || m.stopped {
		return
	}

	counts := make(map[trove.State]int)
	total := 0
	for _, tr := range j.OrderedTroves() {
		counts[tr.State]++
		total++
	}
	done := counts[trove.Built] + counts[trove.Failed] + counts[trove.Unbuildable]

	headerText := fmt.Sprintf("[yellow]Job %d:[white] %d/%d troves terminal | [green]Elapsed:[white] %s", j.JobID, done, total, elapsed.Round(time.Second))

	var b strings.Builder
	order := []trove.State{trove.Loaded, trove.Resolving, trove.Resolved, trove.Queued, trove.Preparing, trove.Building, trove.Built, trove.Failed, trove.Unbuildable, trove.Prebuilt}
	for _, s := range order {
		fmt.Fprintf(&b, "%-12s %3d\n", s, counts[s])
	}

	m.app.QueueUpdateDraw(func() {
		m.header.SetText(headerText)
		m.progress.SetText(b.String())
	})
}

// LogEvent appends a line to the monitor's scrolling log pane, mirroring
// NcursesUI.LogEvent's ring-buffer-of-lines approach.
func (m *Monitor) LogEvent(source, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.app == nil || m.stopped {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] [cyan]%s[white] %s", timestamp, source, message)
	m.eventLines = append(m.eventLines, line)
	if len(m.eventLines) > m.maxEventLines {
		m.eventLines = m.eventLines[1:]
	}

	text := strings.Join(m.eventLines, "\n") + "\n"
	m.app.QueueUpdateDraw(func() {
		m.events.SetText(text)
		m.events.ScrollToEnd()
	})
}
