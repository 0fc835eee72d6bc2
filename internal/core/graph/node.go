// Package graph provides node definitions
package graph

import (
	"time"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// NodeKind represents the kind of processing a node performs.
// The set is closed so the loader can exhaustively check every variant.
type NodeKind string

const (
	// KindLLM is a node executed by the oracle; requires a cost budget
	// reservation before dispatch.
	KindLLM NodeKind = "llm"
	// KindDeterministic is a node executed by a registered handler
	// (script, service call) and checked by the domain validator.
	KindDeterministic NodeKind = "deterministic"
	// KindSpawning is a node whose side effect is creating sub work items;
	// its failure is non-blocking by default.
	KindSpawning NodeKind = "spawning"
)

// DefaultRetryLimit is the per-node retry budget when none is configured.
const DefaultRetryLimit = 5

// DefaultNodeTimeout bounds a node execution when none is configured.
const DefaultNodeTimeout = 10 * time.Minute

// Node represents one named processing step in a pipeline graph.
// PRINCIPLES:
// - KISS: Simple node representation
// - SRP: Only responsible for node data
type Node struct {
	Name string   `json:"name"`
	Kind NodeKind `json:"kind"`

	// Inputs are the named artifacts or state keys the node requires.
	// A node stays pending until every input is present in completed
	// outputs or run-level initial state.
	Inputs []string `json:"inputs,omitempty"`

	// Outputs are the state keys this node writes when recorded.
	Outputs []string `json:"outputs,omitempty"`

	// Validate is a deterministic predicate (govaluate expression) over the
	// node's outputs describing an acceptable result. Empty means any
	// output is acceptable.
	Validate string `json:"validate,omitempty"`

	// Handler names the registered handler for deterministic and spawning
	// nodes; llm nodes carry their prompt template name here.
	Handler string `json:"handler,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`

	// Retries is the per-node retry budget; zero means DefaultRetryLimit.
	Retries int `json:"retries,omitempty"`

	// Budget caps llm-node spend; zero means the run-level budget alone
	// applies. Ignored for other kinds.
	Budget pipeline.CostBudget `json:"budget,omitempty"`

	// NonBlocking marks a node whose failure does not block downstream
	// advancement. Defaults to true for spawning nodes at load time.
	NonBlocking bool `json:"non_blocking,omitempty"`
}

// RetryLimit returns the effective retry budget.
func (n *Node) RetryLimit() int {
	if n.Retries > 0 {
		return n.Retries
	}
	return DefaultRetryLimit
}

// EffectiveTimeout returns the wall-clock bound for one execution.
func (n *Node) EffectiveTimeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return DefaultNodeTimeout
}

// validate ensures node integrity at load time.
func (n *Node) validate() error {
	if n.Name == "" {
		return ErrInvalidNodeName
	}
	switch n.Kind {
	case KindLLM, KindDeterministic, KindSpawning:
	default:
		return ErrInvalidNodeKind
	}
	if n.Retries < 0 {
		return ErrInvalidRetryLimit
	}
	return nil
}
