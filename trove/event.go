package trove

import "rmakedrv/recipe"

// EventKind names one of the event types a BuildTrove publishes on
// transition (spec.md 4.3).
type EventKind string

const (
	EventStateUpdated    EventKind = "TROVE_STATE_UPDATED"
	EventBuilt           EventKind = "TROVE_BUILT"
	EventFailed          EventKind = "TROVE_FAILED"
	EventResolving       EventKind = "TROVE_RESOLVING"
	EventResolved        EventKind = "TROVE_RESOLVED"
	EventPreparingChroot EventKind = "TROVE_PREPARING_CHROOT"
	EventBuilding        EventKind = "TROVE_BUILDING"
	EventLogUpdated      EventKind = "TROVE_LOG_UPDATED"
)

// specificEvents lists the kinds publish sends alone: every other kind is
// followed by a generic TROVE_STATE_UPDATED, while for these six the
// state-update event is suppressed (spec.md 4.3), to avoid notifying
// subscribers twice for the same transition.
var specificEvents = map[EventKind]bool{
	EventBuilt:           true,
	EventFailed:          true,
	EventResolving:       true,
	EventResolved:        true,
	EventPreparingChroot: true,
	EventBuilding:        true,
}

// Event is published to subscribers (persistence, status bus) on every
// trove state change.
type Event struct {
	Kind   EventKind
	JobID  int64
	Triple recipe.Triple
	State  State  // new state, or the unchanged state for log/no-op events
	Detail string // human-readable payload: failure reason, chroot host, log line, etc.
}

// Publisher fans out trove events to subscribers such as a persistence
// layer or a status bus. Implementations must not block the driver for
// long; spec.md 5 bounds every loop iteration's work.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards all events. Useful in tests and as the default
// when a Job is constructed without an explicit publisher.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// FanoutPublisher publishes to every registered subscriber in order.
// Grounded on the teacher's multi-file logger (log/logger.go) which
// writes the same event to several sinks (results/success/failure logs);
// here the sinks are Publisher implementations instead of files.
type FanoutPublisher struct {
	subscribers []Publisher
}

// NewFanoutPublisher creates a publisher that broadcasts to subs in order.
func NewFanoutPublisher(subs ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{subscribers: subs}
}

// Subscribe adds a subscriber to the fanout set.
func (f *FanoutPublisher) Subscribe(p Publisher) {
	f.subscribers = append(f.subscribers, p)
}

func (f *FanoutPublisher) Publish(e Event) {
	for _, s := range f.subscribers {
		s.Publish(e)
	}
}
