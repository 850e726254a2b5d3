// Package event translates worker-emitted events into BuildTrove state
// transitions (spec.md 4.5). It is a thin dispatch table keyed by event
// kind and (jobId, triple), grounded on the teacher's multi-sink
// logger (log/logger.go) for the "one incoming record, several
// side-effects" shape, generalized here from "write to N log files" to
// "locate a trove and call its transition method".
package event

import (
	"fmt"

	"rmakedrv/job"
	"rmakedrv/recipe"
	"rmakedrv/trove"
)

// WorkerEvent is one inbound record from a worker, addressed to a single
// recipe within a single job (spec.md 6: "event payloads carry (jobId,
// (n,v,f), kind-specific fields)").
type WorkerEvent struct {
	Kind   trove.EventKind
	JobID  int64
	Triple recipe.Triple

	ChrootHost string
	LogPath    string
	PID        int
	BuildReqs  []recipe.Triple
	CrossReqs  []recipe.Triple
	Binaries   []recipe.Triple
	Reason     string
	LogText    string
}

// LogSink receives TROVE_LOG_UPDATED text and is told when a recipe
// reaches a terminal build outcome so its tailer can be stopped
// (spec.md 4.5: "stop log tailer" on both TROVE_BUILT and TROVE_FAILED).
type LogSink interface {
	AppendLog(t recipe.Triple, text string)
	StopTailer(t recipe.Triple)
}

// DiscardLogSink drops log text; used where no tailer is wired up.
type DiscardLogSink struct{}

func (DiscardLogSink) AppendLog(recipe.Triple, string) {}
func (DiscardLogSink) StopTailer(recipe.Triple)        {}

// DepHandler is the subset of *dephandler.Handler that event.Handler
// drives as troves transition (spec.md 4.2/4.5: RESOLVED recomputes
// build-requirement satisfaction, BUILT/FAILED clear the in-flight
// dispatch marker). Kept as an interface, not a direct dependency on
// package dephandler, so event package tests can exercise Apply without
// constructing a real dependency handler.
type DepHandler interface {
	OnResolved(recipe.Triple) error
	OnBuilt(binaries []recipe.Triple)
	OnDispatchComplete(recipe.Triple)
}

// Handler applies WorkerEvents to a Job's BuildTroves. One Handler is
// constructed per running job and fed every event the worker facade
// drains via handleRequestIfReady (spec.md 4.1, 4.6).
type Handler struct {
	job        *job.Job
	logSink    LogSink
	depHandler DepHandler
	hadEvent   bool
}

// NewHandler creates a Handler for j. logSink may be nil, equivalent to
// DiscardLogSink.
func NewHandler(j *job.Job, logSink LogSink) *Handler {
	if logSink == nil {
		logSink = DiscardLogSink{}
	}
	return &Handler{job: j, logSink: logSink}
}

// SetDepHandler wires the job's dependency handler into this event
// handler so RESOLVED/BUILT/FAILED transitions feed it (spec.md 4.2).
// Without it, a dependency handler never learns that a trove resolved or
// finished building and the driver loop spins forever (see dephandler
// package doc). May be left unset in tests that don't exercise
// dependency propagation.
func (h *Handler) SetDepHandler(d DepHandler) { h.depHandler = d }

// HadEvent reports whether Apply has processed at least one event since
// the last call to ResetHadEvent, letting a caller distinguish "progress
// made" from "idle spin" (spec.md 4.5). driver.runLoop does not consult
// it; it checks Worker.HasResults instead.
func (h *Handler) HadEvent() bool { return h.hadEvent }

// ResetHadEvent clears the progress flag, normally once per loop
// iteration after it has been inspected.
func (h *Handler) ResetHadEvent() { h.hadEvent = false }

// Apply locates the target BuildTrove and invokes the transition the
// event's kind names (spec.md 4.5's table). Unknown triples are reported
// rather than silently dropped, since that indicates a worker/driver
// desync.
func (h *Handler) Apply(ev WorkerEvent) error {
	tr, ok := h.job.Troves[ev.Triple]
	if !ok {
		return fmt.Errorf("event: %s for unknown trove %s in job %d", ev.Kind, ev.Triple, ev.JobID)
	}

	h.hadEvent = true

	switch ev.Kind {
	case trove.EventPreparingChroot:
		return tr.HandlePreparingChroot(ev.ChrootHost, ev.LogPath)

	case trove.EventResolving:
		return tr.HandleResolving(ev.ChrootHost)

	case trove.EventResolved:
		if err := tr.HandleResolved(ev.BuildReqs, ev.CrossReqs); err != nil {
			return err
		}
		if h.depHandler != nil {
			return h.depHandler.OnResolved(ev.Triple)
		}
		return nil

	case trove.EventBuilding:
		return tr.HandleBuilding(ev.LogPath, ev.PID)

	case trove.EventBuilt:
		if err := tr.HandleBuilt(ev.Binaries); err != nil {
			return err
		}
		h.job.RecordBuilt(tr.BinaryTroves)
		h.logSink.StopTailer(ev.Triple)
		if h.depHandler != nil {
			h.depHandler.OnBuilt(tr.BinaryTroves)
			h.depHandler.OnDispatchComplete(ev.Triple)
		}
		return nil

	case trove.EventFailed:
		if err := tr.HandleFailed(ev.Reason); err != nil {
			return err
		}
		h.logSink.StopTailer(ev.Triple)
		if h.depHandler != nil {
			h.depHandler.OnDispatchComplete(ev.Triple)
		}
		return nil

	case trove.EventLogUpdated:
		h.logSink.AppendLog(ev.Triple, ev.LogText)
		return nil

	case trove.EventStateUpdated:
		return nil

	default:
		return fmt.Errorf("event: unrecognized kind %q for trove %s", ev.Kind, ev.Triple)
	}
}
