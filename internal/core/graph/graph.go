// Package graph provides the pipeline graph model: an immutable, validated
// definition of nodes, edges, and cycle policies, loaded once per run.
//
// Nodes and edges live in flat arenas addressed by interned-name indices, so
// cycle detection and traversal-count bookkeeping are simple index lookups
// rather than pointer chasing.
package graph

import (
	"fmt"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// EvaluationMode controls how a source node's outgoing edges mark downstream
// nodes eligible.
type EvaluationMode string

const (
	// ModeAllMatching fans out to every edge whose condition is satisfied.
	ModeAllMatching EvaluationMode = "all-matching"
	// ModeFirstMatching takes only the first satisfied edge in declared order.
	ModeFirstMatching EvaluationMode = "first-matching"
	// ModeExplicit follows the edge the node itself selected by writing the
	// reserved "next" output key.
	ModeExplicit EvaluationMode = "explicit"
)

// ExplicitNextKey is the output key an explicit-mode node writes to select
// its outgoing edge by target name.
const ExplicitNextKey = "next"

// Definition is the raw node/edge set for one named pipeline, as decoded from
// configuration. Load validates it into an immutable Graph.
type Definition struct {
	Name  string                    `json:"name"`
	Start string                    `json:"start"`
	Nodes []Node                    `json:"nodes"`
	Edges []Edge                    `json:"edges"`
	Modes map[string]EvaluationMode `json:"modes,omitempty"`

	// InitialKeys are the run-level state keys present before any node runs;
	// they participate in the input-satisfiability check.
	InitialKeys []string `json:"initial_keys,omitempty"`
}

// Graph is the immutable, validated pipeline graph.
type Graph struct {
	name      string
	start     int
	nodes     []Node
	nodeIndex map[string]int
	edges     []Edge
	edgeIndex map[string]int
	outgoing  [][]int // edge indices per source node, declared order
	incoming  [][]int // edge indices per target node
	modes     []EvaluationMode
}

// Load validates a definition and builds the graph. All structural checks
// happen here, once: dangling edge endpoints, orphan nodes, unbounded cycles,
// and terminal reachability. The executor never runs an invalid graph.
func Load(def Definition) (*Graph, error) {
	if def.Name == "" {
		return nil, configErr("", ErrInvalidGraphName)
	}
	if def.Start == "" {
		return nil, configErr(def.Name, ErrNoStartNode)
	}

	g := &Graph{
		name:      def.Name,
		nodes:     make([]Node, len(def.Nodes)),
		nodeIndex: make(map[string]int, len(def.Nodes)),
		edges:     make([]Edge, len(def.Edges)),
		edgeIndex: make(map[string]int, len(def.Edges)),
	}

	for i, n := range def.Nodes {
		if err := n.validate(); err != nil {
			return nil, configErr(n.Name, err)
		}
		if _, dup := g.nodeIndex[n.Name]; dup {
			return nil, configErr(n.Name, ErrDuplicateNode)
		}
		if n.Kind == KindSpawning {
			n.NonBlocking = true
		}
		g.nodes[i] = n
		g.nodeIndex[n.Name] = i
	}

	start, ok := g.nodeIndex[def.Start]
	if !ok {
		return nil, configErr(def.Start, ErrInvalidStartNode)
	}
	g.start = start

	g.outgoing = make([][]int, len(g.nodes))
	g.incoming = make([][]int, len(g.nodes))

	for i, e := range def.Edges {
		if e.Name == "" {
			e.Name = fmt.Sprintf("%s->%s", e.Source, e.Target)
		}
		if err := e.validate(); err != nil {
			return nil, configErr(e.Name, err)
		}
		if _, dup := g.edgeIndex[e.Name]; dup {
			return nil, configErr(e.Name, ErrDuplicateEdge)
		}
		src, ok := g.nodeIndex[e.Source]
		if !ok {
			return nil, configErr(e.Name, ErrDanglingSource)
		}
		dst, ok := g.nodeIndex[e.Target]
		if !ok {
			return nil, configErr(e.Name, ErrDanglingTarget)
		}
		g.edges[i] = e
		g.edgeIndex[e.Name] = i
		g.outgoing[src] = append(g.outgoing[src], i)
		g.incoming[dst] = append(g.incoming[dst], i)
	}

	// Overflow and shared-counter references must name declared edges.
	for _, e := range g.edges {
		if e.Overflow != "" {
			if _, ok := g.edgeIndex[e.Overflow]; !ok {
				return nil, configErr(e.Name, ErrUnknownOverflowEdge)
			}
		}
		if e.SharedCounter != "" {
			if _, ok := g.edgeIndex[e.SharedCounter]; !ok {
				return nil, configErr(e.Name, ErrUnknownCounterEdge)
			}
		}
	}

	g.modes = make([]EvaluationMode, len(g.nodes))
	for i := range g.modes {
		g.modes[i] = ModeAllMatching
	}
	for name, mode := range def.Modes {
		idx, ok := g.nodeIndex[name]
		if !ok {
			return nil, configErr(name, ErrNodeNotFound)
		}
		switch mode {
		case ModeAllMatching, ModeFirstMatching, ModeExplicit:
			g.modes[idx] = mode
		default:
			return nil, configErr(name, ErrInvalidEvaluationMode)
		}
	}

	if err := g.checkReachability(); err != nil {
		return nil, err
	}
	if err := g.checkCycleBounds(); err != nil {
		return nil, err
	}
	if err := g.checkTerminalReachable(); err != nil {
		return nil, err
	}
	if err := g.checkInputSatisfiability(def.InitialKeys); err != nil {
		return nil, err
	}

	return g, nil
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// Start returns the designated start node.
func (g *Graph) Start() *Node { return &g.nodes[g.start] }

// Node looks a node up by name.
func (g *Graph) Node(name string) (*Node, bool) {
	idx, ok := g.nodeIndex[name]
	if !ok {
		return nil, false
	}
	return &g.nodes[idx], true
}

// Nodes returns every node in declared order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	for i := range g.nodes {
		out[i] = &g.nodes[i]
	}
	return out
}

// NodeCount returns the number of declared nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Edge looks an edge up by name.
func (g *Graph) Edge(name string) (*Edge, bool) {
	idx, ok := g.edgeIndex[name]
	if !ok {
		return nil, false
	}
	return &g.edges[idx], true
}

// Outgoing returns a node's outgoing edges in declared order; this order is
// the evaluation order, not an optimization hint.
func (g *Graph) Outgoing(node string) []*Edge {
	idx, ok := g.nodeIndex[node]
	if !ok {
		return nil
	}
	out := make([]*Edge, len(g.outgoing[idx]))
	for i, ei := range g.outgoing[idx] {
		out[i] = &g.edges[ei]
	}
	return out
}

// Incoming returns a node's incoming edges.
func (g *Graph) Incoming(node string) []*Edge {
	idx, ok := g.nodeIndex[node]
	if !ok {
		return nil
	}
	out := make([]*Edge, len(g.incoming[idx]))
	for i, ei := range g.incoming[idx] {
		out[i] = &g.edges[ei]
	}
	return out
}

// Mode returns the evaluation mode of a source node.
func (g *Graph) Mode(node string) EvaluationMode {
	idx, ok := g.nodeIndex[node]
	if !ok {
		return ModeAllMatching
	}
	return g.modes[idx]
}

// IsTerminal reports whether a node has no outgoing edges.
func (g *Graph) IsTerminal(node string) bool {
	idx, ok := g.nodeIndex[node]
	if !ok {
		return false
	}
	return len(g.outgoing[idx]) == 0
}

// configErr wraps a sentinel into a ConfigurationError naming the offending
// node or edge.
func configErr(subject string, err error) error {
	return &pipeline.ConfigurationError{Subject: subject, Message: err.Error(), Err: err}
}
