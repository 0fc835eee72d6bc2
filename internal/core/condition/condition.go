// Package condition provides edge-condition definitions and evaluation.
// Conditions are closed tagged variants so the graph loader can exhaustively
// check every variant at load time.
// PRINCIPLES:
// - KISS: One Spec struct, discriminated by Kind
// - SRP: Only responsible for condition data and evaluation
package condition

import (
	"github.com/Knetic/govaluate"
)

// Kind discriminates the condition variants.
type Kind string

const (
	// KindDeterministic is a side-effect-free boolean expression over
	// run-state fields. Always resolves synchronously.
	KindDeterministic Kind = "deterministic"
	// KindExternal delegates to the oracle with the current run context.
	// Requires a declared deterministic fallback.
	KindExternal Kind = "external"
	// KindComposite is an AND/OR/NOT over sub-conditions in declared order.
	KindComposite Kind = "composite"
)

// Op is the boolean operator of a composite condition.
type Op string

const (
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
)

// Spec describes one edge condition.
type Spec struct {
	Kind Kind `json:"kind" toml:"kind"`

	// Expr is the deterministic boolean expression (govaluate syntax) over
	// run-state fields: output values, classification flags, cost thresholds.
	// An empty expression on a deterministic condition always evaluates true.
	Expr string `json:"expr,omitempty" toml:"expr,omitempty"`

	// Prompt is the natural-language predicate presented to the oracle.
	Prompt string `json:"prompt,omitempty" toml:"prompt,omitempty"`

	// Fallback is the pre-declared deterministic default used when the
	// oracle is unavailable or ambiguous. Never implicit: external
	// conditions fail closed to this value, not to true.
	Fallback bool `json:"fallback" toml:"fallback"`

	// Op and Subs describe a composite. Subs are evaluated in declared
	// order; the order is part of the definition, not an optimization hint.
	Op   Op     `json:"op,omitempty" toml:"op,omitempty"`
	Subs []Spec `json:"subs,omitempty" toml:"subs,omitempty"`
}

// Always is a deterministic condition that is always satisfied.
func Always() Spec {
	return Spec{Kind: KindDeterministic}
}

// Expr builds a deterministic condition from an expression.
func Deterministic(expr string) Spec {
	return Spec{Kind: KindDeterministic, Expr: expr}
}

// External builds an oracle-evaluated condition with its mandatory fallback.
func External(prompt string, fallback bool) Spec {
	return Spec{Kind: KindExternal, Prompt: prompt, Fallback: fallback}
}

// Validate ensures the condition is structurally sound and, for deterministic
// conditions, that the expression parses. Called once at graph load time.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindDeterministic:
		if s.Expr == "" {
			return nil
		}
		if _, err := govaluate.NewEvaluableExpression(s.Expr); err != nil {
			return ErrUnparsableExpression
		}
		return nil
	case KindExternal:
		if s.Prompt == "" {
			return ErrMissingPrompt
		}
		return nil
	case KindComposite:
		switch s.Op {
		case OpAnd, OpOr:
			if len(s.Subs) < 2 {
				return ErrTooFewSubConditions
			}
		case OpNot:
			if len(s.Subs) != 1 {
				return ErrNotArity
			}
		default:
			return ErrInvalidOperator
		}
		for _, sub := range s.Subs {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidKind
	}
}

// HasExternal reports whether the condition or any nested sub-condition
// consults the oracle. Used to decide whether short-circuiting is safe.
func (s Spec) HasExternal() bool {
	if s.Kind == KindExternal {
		return true
	}
	for _, sub := range s.Subs {
		if sub.HasExternal() {
			return true
		}
	}
	return false
}
