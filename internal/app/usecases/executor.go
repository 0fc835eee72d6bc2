package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
	"github.com/pvandervelde/cog-works-sub002/internal/core/budget"
	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
	imetrics "github.com/pvandervelde/cog-works-sub002/internal/infrastructure/metrics"
)

// Outcome classifies one node execution attempt for the scheduler.
type Outcome string

const (
	// OutcomeRecorded means outputs were validated and durably recorded.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeRetrying means the attempt failed and the node was re-armed.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeExhausted means the attempt failed with no retries left.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeHalted means a non-retryable condition that must stop the run.
	OutcomeHalted Outcome = "halted"
)

// ExecutionResult is what one dispatched node execution reports back to the
// scheduler loop.
type ExecutionResult struct {
	Node    string
	Outcome Outcome
	Outputs map[string]any
	Err     error
}

// defaultReserve is the budget headroom claimed per llm dispatch when the
// node declares no budget of its own.
const defaultReserve = pipeline.TokenCost(0.25)

// NodeExecutor runs one node instance through its lifecycle:
// announce -> execute -> validate -> record, with failure re-arming the node
// while its retry budget lasts. Retryable failures never surface past it.
// PRINCIPLES:
// - SRP: Single responsibility for node lifecycle execution
// - OCP: Open for extension with new node kinds via the handler registry
// - DIP: Depends on Oracle/DomainValidator abstractions
type NodeExecutor struct {
	oracle    Oracle
	handlers  *HandlerRegistry
	validator DomainValidator
	audit     audit.Sink
	logger    *slog.Logger
	reserve   pipeline.TokenCost
}

// NewNodeExecutor creates an executor. The validator may be nil; deterministic
// nodes then validate against their predicate alone.
func NewNodeExecutor(oracle Oracle, handlers *HandlerRegistry, validator DomainValidator, sink audit.Sink, logger *slog.Logger) *NodeExecutor {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeExecutor{
		oracle:    oracle,
		handlers:  handlers,
		validator: validator,
		audit:     sink,
		logger:    logger,
		reserve:   defaultReserve,
	}
}

// Execute runs one attempt of the node and reports the outcome. State
// transitions go through the keeper so every node boundary is persisted
// before the scheduler acts on it.
func (e *NodeExecutor) Execute(ctx context.Context, keeper *stateKeeper, node *graph.Node, ledger *budget.Ledger) ExecutionResult {
	runID := keeper.current().RunID
	feedback := lastFeedback(keeper.current(), node.Name)

	// Budget is claimed before the announce checkpoint so two parallel llm
	// nodes cannot jointly overspend. A denied node never enters the active
	// set: denial halts the run, it is not a node failure.
	var reservation *budget.Reservation
	if node.Kind == graph.KindLLM && ledger != nil {
		amount := e.reserve
		if node.Budget > 0 {
			amount = pipeline.TokenCost(node.Budget)
		}
		res, err := ledger.TryReserve(node.Name, amount)
		if err != nil {
			return ExecutionResult{Node: node.Name, Outcome: OutcomeHalted, Err: err}
		}
		reservation = res
	}

	if _, err := keeper.apply(ctx, runstate.Announce{Node: node.Name}); err != nil {
		if reservation != nil {
			ledger.Release(reservation)
		}
		return ExecutionResult{Node: node.Name, Outcome: OutcomeHalted, Err: err}
	}
	e.appendAudit(ctx, audit.Event{
		RunID: runID, Kind: audit.KindNodeAnnounced, Node: node.Name,
	})
	imetrics.IncNodeExecutions(string(node.Kind))

	inputs := nodeInputs(keeper.current(), node)

	start := time.Now()
	outputs, cost, execErr := e.dispatch(ctx, keeper, node, inputs, feedback)
	latency := time.Since(start)

	if execErr != nil {
		if reservation != nil {
			ledger.Release(reservation)
		}
		return e.handleFailure(ctx, keeper, node, "executing", execErr, 0)
	}

	if valErr := e.validateOutputs(ctx, node, outputs); valErr != nil {
		// The node ran and spent; a validation failure still commits the
		// actual cost before re-arming with the detail as feedback.
		if reservation != nil {
			ledger.Commit(reservation, cost)
		}
		return e.handleValidationFailure(ctx, keeper, node, valErr, cost)
	}

	if reservation != nil {
		ledger.Commit(reservation, cost)
	}

	if _, err := keeper.apply(ctx, runstate.Record{
		Node:    node.Name,
		Outputs: outputs,
		Cost:    cost,
		Latency: latency,
	}); err != nil {
		return ExecutionResult{Node: node.Name, Outcome: OutcomeHalted, Err: err}
	}
	e.appendAudit(ctx, audit.Event{
		RunID: runID, Kind: audit.KindNodeRecorded, Node: node.Name,
		Detail: map[string]any{
			"cost":    cost.String(),
			"latency": latency.Round(time.Millisecond).String(),
			"inputs":  inputKeys(inputs),
			"outputs": len(outputs),
		},
	})
	e.logger.Info("node recorded",
		"run", runID, "node", node.Name, "cost", cost.String(), "latency", latency)
	imetrics.AddCostUSD(float64(cost))

	return ExecutionResult{Node: node.Name, Outcome: OutcomeRecorded, Outputs: outputs}
}

// dispatch routes the execution to the node-kind-specific handler under the
// node's wall-clock timeout.
func (e *NodeExecutor) dispatch(ctx context.Context, keeper *stateKeeper, node *graph.Node, inputs map[string]any, feedback string) (map[string]any, pipeline.TokenCost, error) {
	execCtx, cancel := context.WithTimeout(ctx, node.EffectiveTimeout())
	defer cancel()

	switch node.Kind {
	case graph.KindLLM:
		if e.oracle == nil {
			return nil, 0, &pipeline.ConfigurationError{
				Subject: node.Name, Message: "llm node requires an oracle",
			}
		}
		out, err := e.oracle.InvokeNode(execCtx, NodeInvocation{
			RunID:    keeper.current().RunID,
			Node:     node.Name,
			Prompt:   node.Handler,
			Inputs:   inputs,
			Feedback: feedback,
			Schema:   node.Outputs,
		})
		if err != nil {
			return nil, 0, err
		}
		return out.Output, out.Cost, nil

	case graph.KindDeterministic, graph.KindSpawning:
		fn, ok := e.handlers.Lookup(node.Handler)
		if !ok {
			return nil, 0, &pipeline.ConfigurationError{
				Subject: node.Name,
				Message: fmt.Sprintf("no handler registered for %q", node.Handler),
			}
		}
		out, err := fn(execCtx, inputs)
		return out, 0, err

	default:
		return nil, 0, &pipeline.ConfigurationError{
			Subject: node.Name, Message: "unknown node kind",
		}
	}
}

// validateOutputs checks the recorded outputs against the node's declared
// predicate, then against the domain validator for deterministic nodes.
// A failure here means "ran, but produced an unacceptable result".
func (e *NodeExecutor) validateOutputs(ctx context.Context, node *graph.Node, outputs map[string]any) error {
	for _, key := range node.Outputs {
		if _, ok := outputs[key]; !ok {
			return fmt.Errorf("declared output %q missing", key)
		}
	}

	if node.Validate != "" {
		expr, err := govaluate.NewEvaluableExpression(node.Validate)
		if err != nil {
			return fmt.Errorf("validation predicate: %w", err)
		}
		result, err := expr.Evaluate(outputs)
		if err != nil {
			return fmt.Errorf("validation predicate: %w", err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return fmt.Errorf("validation predicate yielded %T, want bool", result)
		}
		if !ok {
			return fmt.Errorf("output rejected by predicate %q", node.Validate)
		}
	}

	if node.Kind == graph.KindDeterministic && e.validator != nil {
		diags, err := e.validator.Validate(ctx, node.Name, outputs)
		if err != nil {
			return fmt.Errorf("domain validation: %w", err)
		}
		if pipeline.HasBlocking(diags) {
			return errors.New(blockingSummary(diags))
		}
	}
	return nil
}

// handleFailure classifies an execution error and records the attempt.
// Non-retryable errors force exhaustion so the scheduler escalates.
func (e *NodeExecutor) handleFailure(ctx context.Context, keeper *stateKeeper, node *graph.Node, stage string, cause error, cost pipeline.TokenCost) ExecutionResult {
	policy := pipeline.PolicyFor(cause)
	limit := node.RetryLimit()
	if !policy.Retryable {
		limit = 0
	}

	retrying := e.failAttempt(ctx, keeper, node, stage, cause.Error(), "", limit, cost)
	if retrying {
		return ExecutionResult{Node: node.Name, Outcome: OutcomeRetrying, Err: cause}
	}
	if !policy.Retryable && !node.NonBlocking {
		return ExecutionResult{Node: node.Name, Outcome: OutcomeHalted, Err: cause}
	}
	return ExecutionResult{Node: node.Name, Outcome: OutcomeExhausted, Err: cause}
}

// handleValidationFailure records a validation attempt with the rejection
// detail carried forward as retry feedback.
func (e *NodeExecutor) handleValidationFailure(ctx context.Context, keeper *stateKeeper, node *graph.Node, cause error, cost pipeline.TokenCost) ExecutionResult {
	retrying := e.failAttempt(ctx, keeper, node, "validating", cause.Error(), cause.Error(), node.RetryLimit(), cost)
	if retrying {
		return ExecutionResult{Node: node.Name, Outcome: OutcomeRetrying, Err: cause}
	}
	return ExecutionResult{Node: node.Name, Outcome: OutcomeExhausted, Err: cause}
}

// failAttempt applies the Fail transition and reports whether the node was
// re-armed for another attempt.
func (e *NodeExecutor) failAttempt(ctx context.Context, keeper *stateKeeper, node *graph.Node, stage, message, feedback string, retryLimit int, cost pipeline.TokenCost) bool {
	next, err := keeper.apply(ctx, runstate.Fail{
		Node:       node.Name,
		Stage:      stage,
		Message:    message,
		Feedback:   feedback,
		RetryLimit: retryLimit,
		Cost:       cost,
	})
	if err != nil {
		e.logger.Error("failure transition rejected",
			"run", keeper.current().RunID, "node", node.Name, "error", err)
		return false
	}
	rec := next.Failed[node.Name]
	imetrics.IncNodeFailures(string(node.Kind))
	if !rec.Exhausted {
		imetrics.IncNodeRetries(string(node.Kind))
	}
	e.appendAudit(ctx, audit.Event{
		RunID: next.RunID, Kind: audit.KindNodeFailed, Node: node.Name,
		Detail: map[string]any{
			"stage":        stage,
			"attempts":     len(rec.Attempts),
			"retries_left": rec.RetriesLeft,
			"message":      message,
		},
	})
	e.logger.Warn("node attempt failed",
		"run", next.RunID, "node", node.Name, "stage", stage,
		"retries_left", rec.RetriesLeft, "error", message)
	return !rec.Exhausted
}

func (e *NodeExecutor) appendAudit(ctx context.Context, event audit.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if err := e.audit.Append(ctx, event); err != nil {
		e.logger.Error("audit append failed", "run", event.RunID, "kind", event.Kind, "error", err)
	}
}

// nodeInputs projects the snapshot down to the node's declared inputs.
func nodeInputs(s *runstate.RunState, node *graph.Node) map[string]any {
	snapshot := s.Snapshot()
	inputs := make(map[string]any, len(node.Inputs))
	for _, key := range node.Inputs {
		if v, ok := snapshot[key]; ok {
			inputs[key] = v
		}
	}
	return inputs
}

// inputKeys lists the input keys actually supplied to an execution, sorted
// so audit entries are stable.
func inputKeys(inputs map[string]any) []string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lastFeedback returns the most recent validation feedback for the node, fed
// back as additional context on retry.
func lastFeedback(s *runstate.RunState, node string) string {
	rec, ok := s.Failed[node]
	if !ok {
		return ""
	}
	for i := len(rec.Attempts) - 1; i >= 0; i-- {
		if rec.Attempts[i].Feedback != "" {
			return rec.Attempts[i].Feedback
		}
	}
	return ""
}

func blockingSummary(diags []pipeline.Diagnostic) string {
	var parts []string
	for _, d := range diags {
		if d.IsBlocking() {
			parts = append(parts, fmt.Sprintf("[%s] %s", d.Category, d.Message))
		}
	}
	return "blocking diagnostics: " + strings.Join(parts, "; ")
}
