package condition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
	imetrics "github.com/pvandervelde/cog-works-sub002/internal/infrastructure/metrics"
)

// Decision is the oracle's answer to an external condition.
type Decision struct {
	Value     bool   `json:"value"`
	Rationale string `json:"rationale"`
}

// Oracle answers natural-language predicates over the current run context.
// Implementations are invoked at most once per evaluation.
type Oracle interface {
	EvaluateCondition(ctx context.Context, req Request) (Decision, error)
}

// Request carries everything the oracle needs to answer one predicate.
type Request struct {
	RunID    string         `json:"run_id"`
	Edge     string         `json:"edge"`
	Prompt   string         `json:"prompt"`
	Snapshot map[string]any `json:"snapshot"`
}

// Evaluator resolves edge conditions against a run-state snapshot.
// Deterministic expressions resolve synchronously; external conditions
// consult the oracle and fail closed to the declared fallback; composites
// evaluate sub-conditions in declared order.
type Evaluator struct {
	oracle        Oracle
	audit         audit.Sink
	oracleTimeout time.Duration
	logger        *slog.Logger
}

// NewEvaluator creates a condition evaluator. The oracle may be nil if the
// graph carries no external conditions; an external condition evaluated
// without an oracle resolves to its fallback. A nil sink disables auditing
// only for tests; production wiring always supplies one.
func NewEvaluator(oracle Oracle, sink audit.Sink, oracleTimeout time.Duration, logger *slog.Logger) *Evaluator {
	if oracleTimeout <= 0 {
		oracleTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	return &Evaluator{oracle: oracle, audit: sink, oracleTimeout: oracleTimeout, logger: logger}
}

// Evaluate resolves the condition for one edge against the snapshot.
func (e *Evaluator) Evaluate(ctx context.Context, runID, edge string, spec Spec, snapshot map[string]any) (bool, error) {
	switch spec.Kind {
	case KindDeterministic:
		return e.evaluateDeterministic(spec, snapshot)
	case KindExternal:
		return e.evaluateExternal(ctx, runID, edge, spec, snapshot)
	case KindComposite:
		return e.evaluateComposite(ctx, runID, edge, spec, snapshot)
	default:
		return false, ErrInvalidKind
	}
}

// evaluateDeterministic resolves a side-effect-free expression. An empty
// expression is always satisfied.
func (e *Evaluator) evaluateDeterministic(spec Spec, snapshot map[string]any) (bool, error) {
	if spec.Expr == "" {
		return true, nil
	}
	expr, err := govaluate.NewEvaluableExpression(spec.Expr)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrUnparsableExpression, spec.Expr, err)
	}
	result, err := expr.Evaluate(snapshot)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrEvaluationFailed, spec.Expr, err)
	}
	value, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q yielded non-boolean %T", ErrEvaluationFailed, spec.Expr, result)
	}
	return value, nil
}

// evaluateExternal consults the oracle at most once. Unavailability or an
// ambiguous answer resolves to the declared fallback, never silently to true.
// The invocation is appended to the audit log before the decision is returned.
func (e *Evaluator) evaluateExternal(ctx context.Context, runID, edge string, spec Spec, snapshot map[string]any) (bool, error) {
	value := spec.Fallback
	rationale := "fallback: no oracle configured"

	if e.oracle != nil {
		imetrics.IncOracleCalls()
		oracleCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
		decision, err := e.oracle.EvaluateCondition(oracleCtx, Request{
			RunID:    runID,
			Edge:     edge,
			Prompt:   spec.Prompt,
			Snapshot: snapshot,
		})
		cancel()

		switch {
		case err != nil:
			imetrics.IncOracleFallbacks()
			e.logger.Warn("oracle unavailable, using declared fallback",
				slog.String("run_id", runID),
				slog.String("edge", edge),
				slog.Bool("fallback", spec.Fallback),
				slog.String("error", err.Error()),
			)
			rationale = fmt.Sprintf("fallback: oracle error: %v", err)
		case decision.Rationale == "":
			// An answer without a rationale is ambiguous by definition.
			imetrics.IncOracleFallbacks()
			e.logger.Warn("oracle answer ambiguous, using declared fallback",
				slog.String("run_id", runID),
				slog.String("edge", edge),
				slog.Bool("fallback", spec.Fallback),
			)
			rationale = "fallback: oracle answer carried no rationale"
		default:
			value = decision.Value
			rationale = decision.Rationale
		}
	}

	event := audit.Event{
		Time:      time.Now().UTC(),
		RunID:     runID,
		Kind:      audit.KindConditionEvaluated,
		Edge:      edge,
		Decision:  &value,
		Rationale: rationale,
		Detail:    map[string]any{"prompt": spec.Prompt},
	}
	if err := e.audit.Append(ctx, event); err != nil {
		return false, fmt.Errorf("appending condition audit event: %w", err)
	}

	return value, nil
}

// evaluateComposite resolves AND/OR/NOT in declared order. Once the result is
// decided, remaining deterministic sub-conditions are skipped, but
// sub-conditions that consult the oracle are still evaluated so their
// invocations reach the audit log.
func (e *Evaluator) evaluateComposite(ctx context.Context, runID, edge string, spec Spec, snapshot map[string]any) (bool, error) {
	switch spec.Op {
	case OpNot:
		value, err := e.Evaluate(ctx, runID, edge, spec.Subs[0], snapshot)
		if err != nil {
			return false, err
		}
		return !value, nil

	case OpAnd, OpOr:
		decided := false
		result := spec.Op == OpAnd // AND starts true, OR starts false

		for _, sub := range spec.Subs {
			if decided && !sub.HasExternal() {
				continue
			}
			value, err := e.Evaluate(ctx, runID, edge, sub, snapshot)
			if err != nil {
				return false, err
			}
			if decided {
				continue // evaluated for audit only
			}
			if spec.Op == OpAnd {
				result = result && value
				if !value {
					decided = true
				}
			} else {
				result = result || value
				if value {
					decided = true
				}
			}
		}
		return result, nil

	default:
		return false, ErrInvalidOperator
	}
}
