package cogworks

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandervelde/cog-works-sub002/internal/app/usecases"
	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
	coregraph "github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
)

// echoOracle fills every declared output key with a marker value and
// approves the review stage.
type echoOracle struct {
	mu    sync.Mutex
	calls int
}

func (o *echoOracle) InvokeNode(_ context.Context, req usecases.NodeInvocation) (*usecases.NodeOutput, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()

	out := map[string]any{}
	if req.Node == "review" {
		out["review_approved"] = true
		out["review_feedback"] = "ship it"
	} else {
		for _, key := range req.Schema {
			out[key] = req.Node + "-done"
		}
	}
	return &usecases.NodeOutput{Output: out, Cost: pipeline.TokenCost(0.01)}, nil
}

func (o *echoOracle) EvaluateCondition(context.Context, condition.Request) (condition.Decision, error) {
	return condition.Decision{Value: true, Rationale: "echo"}, nil
}

func TestRuntime_RunDefaultPipeline(t *testing.T) {
	oracle := &echoOracle{}
	rt := NewRuntime(Options{Oracle: oracle})
	g := rt.RegisterDefault()
	require.Equal(t, coregraph.DefaultPipelineName, g.Name())

	resp, err := rt.Run(context.Background(), g.Name(), pipeline.WorkItemID(7), map[string]any{
		"work_item": "support resumable uploads",
	})
	require.NoError(t, err)

	assert.Equal(t, runstate.StatusCompleted, resp.Status)
	assert.Equal(t, "integration-done", resp.Output["pull_request"])
	assert.Equal(t, 7, oracle.calls)

	t.Run("run state is queryable afterwards", func(t *testing.T) {
		status, err := rt.GetRunState(context.Background(), resp.RunID)
		require.NoError(t, err)
		assert.Equal(t, runstate.StatusCompleted, status.Status)
	})

	t.Run("resume returns the same terminal outcome", func(t *testing.T) {
		again, err := rt.ResumeRun(context.Background(), resp.RunID)
		require.NoError(t, err)
		assert.Equal(t, resp.Status, again.Status)
		assert.Equal(t, 7, oracle.calls, "nothing re-executed")
	})

	t.Run("audit trail reaches the configured sink", func(t *testing.T) {
		sink, ok := rt.Audit().(*audit.MemorySink)
		require.True(t, ok)
		assert.NotEmpty(t, sink.ByKind(audit.KindRunCompleted))
	})
}

func TestRuntime_RegisterPipelineAndHandlers(t *testing.T) {
	rt := NewRuntime(Options{})

	_, err := rt.RegisterPipeline(Definition{Name: "broken"})
	assert.Error(t, err, "invalid definitions are rejected at registration")

	g, err := rt.RegisterPipeline(Definition{
		Name:        "scripted",
		Start:       "step",
		InitialKeys: []string{"seed"},
		Nodes: []Node{{
			Name: "step", Kind: coregraph.KindDeterministic,
			Handler: "double", Inputs: []string{"seed"}, Outputs: []string{"result"},
		}},
	})
	require.NoError(t, err)

	rt.RegisterHandler("double", func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"result": in["seed"].(int) * 2}, nil
	})

	resp, err := rt.Run(context.Background(), g.Name(), 1, map[string]any{"seed": 21})
	require.NoError(t, err)

	assert.Equal(t, runstate.StatusCompleted, resp.Status)
	assert.Equal(t, 42, resp.Output["result"])
}

func TestRuntime_UnknownPipeline(t *testing.T) {
	rt := NewRuntime(Options{})
	_, err := rt.Run(context.Background(), "never-registered", 1, nil)
	assert.ErrorIs(t, err, usecases.ErrUnknownPipeline)
}
