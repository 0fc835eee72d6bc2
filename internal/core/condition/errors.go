// Package condition defines domain-specific errors
package condition

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	ErrInvalidKind          = errors.New("invalid condition kind")
	ErrUnparsableExpression = errors.New("condition expression does not parse")
	ErrMissingPrompt        = errors.New("external condition requires a prompt")
	ErrInvalidOperator      = errors.New("invalid composite operator")
	ErrTooFewSubConditions  = errors.New("and/or composites require at least two sub-conditions")
	ErrNotArity             = errors.New("not composites require exactly one sub-condition")
	ErrNilOracle            = errors.New("external condition evaluated without an oracle")
	ErrEvaluationFailed     = errors.New("condition evaluation failed")
)
