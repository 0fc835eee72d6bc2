package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
)

func sampleState(t *testing.T) *runstate.RunState {
	t.Helper()
	g, err := graph.Load(graph.DefaultDefinition())
	require.NoError(t, err)

	s := runstate.New("r1", g, pipeline.WorkItemID(7), map[string]any{"work_item": "issue body"})
	s, err = runstate.Apply(s, runstate.Announce{Node: "intake"})
	require.NoError(t, err)
	s, err = runstate.Apply(s, runstate.Record{
		Node:    "intake",
		Outputs: map[string]any{"intake": "classified"},
		Cost:    pipeline.TokenCost(0.25),
	})
	require.NoError(t, err)
	s, err = runstate.Apply(s, runstate.Arm{Nodes: []string{"architecture"}})
	require.NoError(t, err)
	return s
}

func TestStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	s := sampleState(t)

	require.NoError(t, store.WriteState(ctx, s.RunID, s))

	loaded, err := store.ReadState(ctx, s.RunID)
	require.NoError(t, err)

	assert.Equal(t, s.RunID, loaded.RunID)
	assert.Equal(t, s.Pipeline, loaded.Pipeline)
	assert.Equal(t, s.WorkItem, loaded.WorkItem)
	assert.Equal(t, s.Version, loaded.Version)
	assert.Equal(t, s.Cost.Total, loaded.Cost.Total)
	assert.Equal(t, "classified", loaded.Completed["intake"].Outputs["intake"])
	assert.True(t, loaded.Armed["architecture"])
}

func TestStore_ReloadYieldsSameEligibleSet(t *testing.T) {
	// The eligible set computed from a reloaded snapshot must match the
	// in-process one, otherwise a resumed run would diverge.
	ctx := context.Background()
	store := NewStore(nil)
	g, err := graph.Load(graph.DefaultDefinition())
	require.NoError(t, err)
	s := sampleState(t)

	require.NoError(t, store.WriteState(ctx, s.RunID, s))
	loaded, err := store.ReadState(ctx, s.RunID)
	require.NoError(t, err)

	inProcess := runstate.EligibleNodes(g, s)
	reloaded := runstate.EligibleNodes(g, loaded)
	require.Len(t, reloaded, len(inProcess))
	for i := range inProcess {
		assert.Equal(t, inProcess[i].Name, reloaded[i].Name)
	}
}

func TestStore_ReadMissingRun(t *testing.T) {
	store := NewStore(nil)
	_, err := store.ReadState(context.Background(), "nope")
	assert.ErrorIs(t, err, pipeline.ErrRunNotFound)
}

func TestStore_WriteReplacesPriorVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	s := sampleState(t)

	require.NoError(t, store.WriteState(ctx, s.RunID, s))

	next, err := runstate.Apply(s, runstate.Announce{Node: "architecture"})
	require.NoError(t, err)
	require.NoError(t, store.WriteState(ctx, next.RunID, next))

	loaded, err := store.ReadState(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, next.Version, loaded.Version)
	assert.Contains(t, loaded.Active, "architecture")
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	s := sampleState(t)

	require.NoError(t, store.WriteState(ctx, s.RunID, s))
	require.NoError(t, store.Delete(ctx, s.RunID))

	_, err := store.ReadState(ctx, s.RunID)
	assert.ErrorIs(t, err, pipeline.ErrRunNotFound)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	s := sampleState(t)
	require.NoError(t, store.WriteState(ctx, s.RunID, s))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)
}
