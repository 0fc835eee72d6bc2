// Package pipeline provides the shared domain value types for the CogWorks
// pipeline: token counts, costs, budgets, and diagnostics.
// PRINCIPLES:
// - KISS: Small value types with construction-time invariants
// - SRP: Only responsible for domain values, not execution
package pipeline

import (
	"fmt"
	"math"
)

// TokenCount is the number of tokens consumed or budgeted in an LLM call.
type TokenCount uint64

// Add returns the sum of two token counts.
func (c TokenCount) Add(other TokenCount) TokenCount {
	return c + other
}

// IsZero reports whether the count is zero.
func (c TokenCount) IsZero() bool {
	return c == 0
}

func (c TokenCount) String() string {
	return fmt.Sprintf("%d", uint64(c))
}

// TokenCost is the monetary cost of LLM token usage in US dollars.
// Costs are always finite and non-negative; use NewTokenCost to construct
// values from untrusted input. Display precision is six decimal places.
type TokenCost float64

// NewTokenCost validates a raw USD value as a cost.
func NewTokenCost(value float64) (TokenCost, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, ErrInvalidCost
	}
	return TokenCost(value), nil
}

// Add returns the sum of two costs.
func (c TokenCost) Add(other TokenCost) TokenCost {
	return c + other
}

// IsZero reports whether the cost is zero.
func (c TokenCost) IsZero() bool {
	return c == 0
}

func (c TokenCost) String() string {
	return fmt.Sprintf("$%.6f", float64(c))
}

// CostBudget is the maximum token cost permitted for a pipeline run or a
// parallel budget window. The budget is shared across parallel nodes.
type CostBudget float64

// NewCostBudget validates a raw USD limit as a budget. Budgets must be
// finite and strictly positive.
func NewCostBudget(limit float64) (CostBudget, error) {
	if math.IsNaN(limit) || math.IsInf(limit, 0) || limit <= 0 {
		return 0, ErrInvalidBudget
	}
	return CostBudget(limit), nil
}

// IsExceededBy reports whether accumulated spend equals or exceeds the budget.
func (b CostBudget) IsExceededBy(accumulated TokenCost) bool {
	return float64(accumulated) >= float64(b)
}

func (b CostBudget) String() string {
	return fmt.Sprintf("$%.6f", float64(b))
}

// WorkItemID identifies the unit of work a pipeline run is bound to
// (the issue number assigned by the tracking system).
type WorkItemID uint64

func (id WorkItemID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// DiagnosticSeverity is the severity level of a Diagnostic finding.
type DiagnosticSeverity string

const (
	// SeverityBlocking blocks progression; the relevant check fails.
	SeverityBlocking DiagnosticSeverity = "blocking"
	// SeverityWarning should be addressed but does not block progression.
	SeverityWarning DiagnosticSeverity = "warning"
	// SeverityInformational carries context with no impact on progression.
	SeverityInformational DiagnosticSeverity = "informational"
)

// Standardised diagnostic categories. Domain validators may emit custom
// categories; consumers treat unknown categories as informational.
const (
	CategorySyntaxError         = "syntax_error"
	CategoryTypeError           = "type_error"
	CategoryConstraintViolation = "constraint_violation"
	CategoryInterfaceMismatch   = "interface_mismatch"
	CategoryDependencyError     = "dependency_error"
	CategoryStyleViolation      = "style_violation"
	CategorySafetyConcern       = "safety_concern"
	CategoryPerformanceConcern  = "performance_concern"
	CategoryTestFailure         = "test_failure"
	CategoryCompleteness        = "completeness"
)

// Diagnostic is a structured finding produced by a domain validator or
// review pass. Findings are accumulated and compared against severity
// thresholds to decide whether a node's output is acceptable.
type Diagnostic struct {
	// Artifact is the path the finding relates to, relative to the
	// repository root. Empty for findings that are not file-specific.
	Artifact string `json:"artifact,omitempty"`
	// Location is a human-readable position within the artifact
	// (e.g. "line 42, column 5"). Empty when it applies to the whole artifact.
	Location string             `json:"location,omitempty"`
	Severity DiagnosticSeverity `json:"severity"`
	Category string             `json:"category"`
	Message  string             `json:"message"`
}

// IsBlocking reports whether the finding blocks progression.
func (d Diagnostic) IsBlocking() bool {
	return d.Severity == SeverityBlocking
}

// HasBlocking reports whether any finding in the slice is blocking.
func HasBlocking(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.IsBlocking() {
			return true
		}
	}
	return false
}
