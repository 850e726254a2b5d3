package worker

import (
	"fmt"
	"sort"
	"sync"

	"rmakedrv/recipe"
	"rmakedrv/trove"
)

// Fleet is the remote-dispatch Worker implementation: it would submit
// resolve/build commands to a message-bus-addressed pool of build nodes
// the way original_source/rmake_plugins/multinode does, instead of
// running them in local goroutines. The wire protocol and node-admission
// logic are explicitly out of scope (spec.md 1 Non-goals: "the RPC/wire
// transport itself"; spec.md 6 documents the admin surface -
// "status messagebus/dispatcher/node", "suspend/resume" - without
// specifying its transport). Fleet exists so the driver's dependency on
// Worker never has to change shape when a real transport is wired in;
// every command-dispatch method here returns a descriptive error until
// one is.
//
// What Fleet does implement concretely is the in-memory node table the
// admin CLI's status/suspend/resume subcommands read and mutate
// (SPEC_FULL.md SUPPLEMENTED FEATURES "Admin session suspend/resume"),
// grounded on original_source/rmake_plugins/multinode/cmdline/
// admin_command.py's "operate directly on the dispatcher's live node
// list" shape.
type Fleet struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// Node is one build node's admin-visible state.
type Node struct {
	ID        string
	Suspended bool
	Queued    []string // command ids queued but not yet assigned
	Assigned  []AssignedCommand
}

// AssignedCommand is one command currently running on a node, with the
// pid spec.md 6's "status node" output names.
type AssignedCommand struct {
	CommandID string
	PID       int
}

// NewFleet constructs a Fleet addressing the given build node ids, all
// initially eligible for work.
func NewFleet(nodeIDs []string) *Fleet {
	f := &Fleet{nodes: make(map[string]*Node, len(nodeIDs))}
	for _, id := range nodeIDs {
		f.nodes[id] = &Node{ID: id}
	}
	return f
}

var _ Worker = (*Fleet)(nil)

var errFleetUnimplemented = fmt.Errorf("worker: Fleet has no wire transport wired in; use worker.Local or supply one")

func (f *Fleet) BuildTrove(tr *trove.BuildTrove, buildReqs, crossReqs []recipe.Triple, targetLabel string, logHost string, logPort int, builtTroves []recipe.Triple) error {
	return errFleetUnimplemented
}

func (f *Fleet) Resolve(tr *trove.BuildTrove) error {
	return errFleetUnimplemented
}

func (f *Fleet) StartTroveLogger(tr *trove.BuildTrove) (string, int, error) {
	return "", 0, errFleetUnimplemented
}

func (f *Fleet) StopTroveLogger(tr *trove.BuildTrove) {}

func (f *Fleet) HandleRequestIfReady() {}

func (f *Fleet) HasResults() bool { return false }

func (f *Fleet) StopAllCommands() {}

// DispatcherStatus is the "status dispatcher" admin view (spec.md 6).
type DispatcherStatus struct {
	Nodes []NodeSummary
}

// NodeSummary is one row of "status dispatcher" or the detail returned
// by "status node <nodeId>".
type NodeSummary struct {
	ID              string
	Suspended       bool
	QueuedCount     int
	AssignedCount   int
	Queued          []string
	Assigned        []AssignedCommand
}

// Status returns every node's admin-visible state, sorted by id for
// stable CLI output.
func (f *Fleet) Status() DispatcherStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := DispatcherStatus{Nodes: make([]NodeSummary, 0, len(f.nodes))}
	for _, n := range f.nodes {
		out.Nodes = append(out.Nodes, NodeSummary{
			ID:            n.ID,
			Suspended:     n.Suspended,
			QueuedCount:   len(n.Queued),
			AssignedCount: len(n.Assigned),
			Queued:        append([]string(nil), n.Queued...),
			Assigned:      append([]AssignedCommand(nil), n.Assigned...),
		})
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })
	return out
}

// NodeStatus returns the detail for one node ("status node <nodeId>").
func (f *Fleet) NodeStatus(id string) (NodeSummary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return NodeSummary{}, false
	}
	return NodeSummary{
		ID:            n.ID,
		Suspended:     n.Suspended,
		QueuedCount:   len(n.Queued),
		AssignedCount: len(n.Assigned),
		Queued:        append([]string(nil), n.Queued...),
		Assigned:      append([]AssignedCommand(nil), n.Assigned...),
	}, true
}

// Suspend marks each named node ineligible for new work (spec.md 6
// "suspend <sessionId>..."). Returns an error naming any unknown ids;
// known ids are still suspended even when others are unknown, matching
// admin_command.py's best-effort-per-id behavior.
func (f *Fleet) Suspend(nodeIDs []string) error {
	return f.setSuspended(nodeIDs, true)
}

// Resume reverses Suspend (spec.md 6 "resume <sessionId>...").
func (f *Fleet) Resume(nodeIDs []string) error {
	return f.setSuspended(nodeIDs, false)
}

func (f *Fleet) setSuspended(nodeIDs []string, suspended bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var unknown []string
	for _, id := range nodeIDs {
		n, ok := f.nodes[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		n.Suspended = suspended
	}
	if len(unknown) > 0 {
		return fmt.Errorf("worker: unknown node id(s): %v", unknown)
	}
	return nil
}

// IsEligible reports whether a node may receive new work, i.e. it exists
// and is not suspended.
func (f *Fleet) IsEligible(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return ok && !n.Suspended
}
