package runstate

import (
	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
)

// EligibleNodes computes which nodes may be dispatched right now. The result
// depends only on the graph and the state value, so reloading a persisted
// state and calling this again yields exactly the same set as continuing
// in-process.
//
// A node is eligible when an incoming edge armed it (or it is the start
// node), every declared input is present in completed outputs, carried
// outputs, or initial state, and it is not already active, completed, or
// failed without remaining retries.
func EligibleNodes(g *graph.Graph, s *RunState) []*graph.Node {
	if s.Status.Terminal() || s.Cancelled {
		return nil
	}

	available := availableKeys(s)

	var eligible []*graph.Node
	for _, node := range g.Nodes() {
		if !s.Armed[node.Name] {
			continue
		}
		if _, active := s.Active[node.Name]; active {
			continue
		}
		if _, done := s.Completed[node.Name]; done {
			continue
		}
		if rec, failed := s.Failed[node.Name]; failed && rec.Exhausted {
			continue
		}
		if !inputsSatisfied(node, available) {
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible
}

// FanInReady reports whether no direct upstream source is still executing.
// Input satisfaction already keeps a fan-in node pending until every sibling
// has recorded its declared outputs; this additionally keeps it from
// dispatching in the window between a sibling's announce and its durable
// record, when that sibling's outputs could still change the node's inputs.
func FanInReady(g *graph.Graph, s *RunState, node string) bool {
	for _, e := range g.Incoming(node) {
		if _, active := s.Active[e.Source]; active {
			return false
		}
	}
	return true
}

func availableKeys(s *RunState) map[string]bool {
	keys := make(map[string]bool, len(s.Initial)+len(s.Carried))
	for k := range s.Initial {
		keys[k] = true
	}
	for k := range s.Carried {
		keys[k] = true
	}
	for _, result := range s.Completed {
		for k := range result.Outputs {
			keys[k] = true
		}
	}
	return keys
}

func inputsSatisfied(node *graph.Node, available map[string]bool) bool {
	for _, in := range node.Inputs {
		if !available[in] {
			return false
		}
	}
	return true
}
