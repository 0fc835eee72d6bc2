// Package graph provides edge definitions
package graph

import (
	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
)

// RetentionPolicy controls which prior outputs survive re-entry through a
// cycle edge.
type RetentionPolicy string

const (
	// RetainAll keeps every prior output on re-entry.
	RetainAll RetentionPolicy = "retain-all"
	// DiscardOutputs removes the re-entered node's outputs (and those of any
	// nodes listed in Edge.Discard) so the rework pass recomputes them.
	DiscardOutputs RetentionPolicy = "discard-outputs"
)

// Edge represents a directed, conditioned transition between two nodes.
// PRINCIPLES:
// - KISS: Simple edge representation
// - SRP: Only responsible for edge data
type Edge struct {
	// Name is unique within a graph; generated as "source->target" when
	// the definition leaves it empty.
	Name   string `json:"name"`
	Source string `json:"source"`
	Target string `json:"target"`

	// Condition gates traversal. A zero-value condition is treated as
	// always satisfied.
	Condition condition.Spec `json:"condition"`

	// MaxTraversals bounds cycle edges. Every edge that closes a cycle must
	// declare a finite positive count; the loader rejects graphs where a
	// cycle carries no bounded edge.
	MaxTraversals int `json:"max_traversals,omitempty"`

	// Retention and Discard describe the re-entry policy for cycle edges.
	Retention RetentionPolicy `json:"retention,omitempty"`
	Discard   []string        `json:"discard,omitempty"`

	// SharedCounter makes this edge increment the traversal counter of the
	// named edge instead of its own, so sibling rework paths share a cap.
	SharedCounter string `json:"shared_counter,omitempty"`

	// Overflow names the edge taken when the traversal cap would be
	// exceeded. Empty means cycle exhaustion halts the run.
	Overflow string `json:"overflow,omitempty"`
}

// CounterKey returns the traversal-counter key this edge increments.
func (e *Edge) CounterKey() string {
	if e.SharedCounter != "" {
		return e.SharedCounter
	}
	return e.Name
}

// validate ensures edge integrity at load time. Endpoint existence is
// checked by the graph loader, which owns the node table.
func (e *Edge) validate() error {
	if e.Source == "" {
		return ErrInvalidSource
	}
	if e.Target == "" {
		return ErrInvalidTarget
	}
	if e.MaxTraversals < 0 {
		return ErrInvalidTraversalCap
	}
	switch e.Retention {
	case "", RetainAll, DiscardOutputs:
	default:
		return ErrInvalidRetention
	}
	if e.Condition.Kind != "" {
		if err := e.Condition.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveCondition normalises a zero-value condition to always-true.
func (e *Edge) EffectiveCondition() condition.Spec {
	if e.Condition.Kind == "" {
		return condition.Always()
	}
	return e.Condition
}
