package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandervelde/cog-works-sub002/internal/adapters/repository/memory"
	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
	"github.com/pvandervelde/cog-works-sub002/internal/core/budget"
	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
)

// diagValidator returns scripted diagnostics for every node.
type diagValidator struct {
	diags []pipeline.Diagnostic
	err   error
}

func (v *diagValidator) Validate(context.Context, string, map[string]any) ([]pipeline.Diagnostic, error) {
	return v.diags, v.err
}

// singleNodeKeeper builds a keeper for a one-node graph with the node armed.
func singleNodeKeeper(t *testing.T, node graph.Node) (*stateKeeper, *graph.Node) {
	t.Helper()
	g, err := graph.Load(graph.Definition{
		Name:        "one",
		Start:       node.Name,
		InitialKeys: []string{"seed"},
		Nodes:       []graph.Node{node},
	})
	require.NoError(t, err)

	state := runstate.New("r1", g, 1, map[string]any{"seed": "s"})
	keeper := newStateKeeper(memory.NewStore(nil), state)
	loaded, _ := g.Node(node.Name)
	return keeper, loaded
}

func TestExecute_DeterministicNodeRecords(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("work", func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"out": in["seed"]}, nil
	})
	sink := audit.NewMemorySink()
	executor := NewNodeExecutor(nil, handlers, nil, sink, nil)

	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindDeterministic, Handler: "work",
		Inputs: []string{"seed"}, Outputs: []string{"out"},
	})

	res := executor.Execute(context.Background(), keeper, node, nil)

	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.Equal(t, "s", res.Outputs["out"])
	assert.Contains(t, keeper.current().Completed, "step")

	t.Run("record audit entry names the inputs used", func(t *testing.T) {
		events := sink.ByKind(audit.KindNodeRecorded)
		require.Len(t, events, 1)
		assert.Equal(t, []string{"seed"}, events[0].Detail["inputs"])
		assert.Equal(t, 1, events[0].Detail["outputs"])
	})
}

func TestExecute_MissingHandlerHalts(t *testing.T) {
	executor := NewNodeExecutor(nil, NewHandlerRegistry(), nil, audit.NewMemorySink(), nil)
	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindDeterministic, Handler: "unbound",
	})

	res := executor.Execute(context.Background(), keeper, node, nil)

	// A configuration gap is not retryable; the run must stop rather than
	// burn the retry budget.
	assert.Equal(t, OutcomeHalted, res.Outcome)
	var cfgErr *pipeline.ConfigurationError
	assert.ErrorAs(t, res.Err, &cfgErr)
	assert.True(t, keeper.current().Failed["step"].Exhausted)
}

func TestExecute_LLMNodeWithoutOracleHalts(t *testing.T) {
	executor := NewNodeExecutor(nil, NewHandlerRegistry(), nil, audit.NewMemorySink(), nil)
	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindLLM, Handler: "prompt",
	})

	res := executor.Execute(context.Background(), keeper, node, nil)

	assert.Equal(t, OutcomeHalted, res.Outcome)
	var cfgErr *pipeline.ConfigurationError
	assert.ErrorAs(t, res.Err, &cfgErr)
}

func TestExecute_BudgetDenialIsNotANodeFailure(t *testing.T) {
	executor := NewNodeExecutor(nil, NewHandlerRegistry(), nil, audit.NewMemorySink(), nil)
	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindLLM, Handler: "prompt",
	})

	// The default reservation cannot fit, so the claim is denied before the
	// node is announced or dispatched.
	ledger := budget.NewLedger(pipeline.CostBudget(0.10))
	res := executor.Execute(context.Background(), keeper, node, ledger)

	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.ErrorIs(t, res.Err, budget.ErrDenied)

	state := keeper.current()
	assert.NotContains(t, state.Failed, "step")
	assert.Empty(t, state.Active, "denied node never entered the active set")
	assert.True(t, state.Armed["step"], "node stays armed for a future resume")
}

func TestExecute_MissingDeclaredOutputRetries(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("work", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"unexpected": 1}, nil
	})
	executor := NewNodeExecutor(nil, handlers, nil, audit.NewMemorySink(), nil)

	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindDeterministic, Handler: "work",
		Outputs: []string{"out"}, Retries: 2,
	})

	res := executor.Execute(context.Background(), keeper, node, nil)

	assert.Equal(t, OutcomeRetrying, res.Outcome)
	state := keeper.current()
	assert.True(t, state.Armed["step"], "node re-armed for the retry")
	attempts := state.Failed["step"].Attempts
	require.Len(t, attempts, 1)
	assert.Equal(t, "validating", attempts[0].Stage)
	assert.Contains(t, attempts[0].Feedback, `declared output "out" missing`)
}

func TestExecute_BlockingDiagnosticFailsValidation(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("work", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"out": "artifact"}, nil
	})
	validator := &diagValidator{diags: []pipeline.Diagnostic{
		{Severity: pipeline.SeverityWarning, Category: pipeline.CategoryStyleViolation, Message: "naming"},
		{Severity: pipeline.SeverityBlocking, Category: pipeline.CategorySyntaxError, Message: "unbalanced brace"},
	}}
	executor := NewNodeExecutor(nil, handlers, validator, audit.NewMemorySink(), nil)

	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindDeterministic, Handler: "work",
		Outputs: []string{"out"}, Retries: 1,
	})

	res := executor.Execute(context.Background(), keeper, node, nil)

	assert.Equal(t, OutcomeRetrying, res.Outcome)
	assert.Contains(t, res.Err.Error(), "unbalanced brace")
	assert.NotContains(t, res.Err.Error(), "naming", "warnings do not block")
}

func TestExecute_WarningDiagnosticsDoNotBlock(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("work", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"out": "artifact"}, nil
	})
	validator := &diagValidator{diags: []pipeline.Diagnostic{
		{Severity: pipeline.SeverityWarning, Category: pipeline.CategoryCompleteness, Message: "thin docs"},
	}}
	executor := NewNodeExecutor(nil, handlers, validator, audit.NewMemorySink(), nil)

	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindDeterministic, Handler: "work",
		Outputs: []string{"out"},
	})

	res := executor.Execute(context.Background(), keeper, node, nil)
	assert.Equal(t, OutcomeRecorded, res.Outcome)
}

func TestExecute_HandlerErrorExhaustsRetries(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("work", func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("disk full")
	})
	executor := NewNodeExecutor(nil, handlers, nil, audit.NewMemorySink(), nil)

	keeper, node := singleNodeKeeper(t, graph.Node{
		Name: "step", Kind: graph.KindDeterministic, Handler: "work", Retries: 1,
	})

	ctx := context.Background()
	res := executor.Execute(ctx, keeper, node, nil)
	assert.Equal(t, OutcomeRetrying, res.Outcome)

	res = executor.Execute(ctx, keeper, node, nil)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.True(t, keeper.current().Failed["step"].Exhausted)
}

func TestHandlerRegistry(t *testing.T) {
	reg := NewHandlerRegistry()

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)

	reg.Register("echo", func(_ context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	})
	fn, ok := reg.Lookup("echo")
	require.True(t, ok)

	out, err := fn(context.Background(), map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "v", out["k"])
}
