// Package graph defines domain-specific errors
package graph

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Graph errors
	ErrInvalidGraphName = errors.New("invalid graph name")
	ErrNoStartNode      = errors.New("no start node specified")
	ErrInvalidStartNode = errors.New("start node not found")
	ErrNoTerminalNode   = errors.New("no terminal node reachable from the start node")
	ErrUnboundedCycle   = errors.New("cycle has no edge with a finite max traversal count")
	ErrOrphanNode       = errors.New("node unreachable from the start node")
	ErrGraphNotFound    = errors.New("graph not found")

	// Node errors
	ErrInvalidNodeName       = errors.New("invalid node name")
	ErrInvalidNodeKind       = errors.New("invalid node kind")
	ErrInvalidRetryLimit     = errors.New("retry limit cannot be negative")
	ErrDuplicateNode         = errors.New("duplicate node name")
	ErrNodeNotFound          = errors.New("node not found")
	ErrUnsatisfiableInput    = errors.New("node input not produced by any upstream output or initial state")
	ErrInvalidEvaluationMode = errors.New("invalid edge evaluation mode")

	// Edge errors
	ErrInvalidSource       = errors.New("invalid source node")
	ErrInvalidTarget       = errors.New("invalid target node")
	ErrDanglingSource      = errors.New("edge source references an undeclared node")
	ErrDanglingTarget      = errors.New("edge target references an undeclared node")
	ErrDuplicateEdge       = errors.New("duplicate edge name")
	ErrInvalidTraversalCap = errors.New("max traversal count cannot be negative")
	ErrInvalidRetention    = errors.New("invalid retention policy")
	ErrUnknownOverflowEdge = errors.New("overflow edge not declared")
	ErrUnknownCounterEdge  = errors.New("shared counter edge not declared")
)
