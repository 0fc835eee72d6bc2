package usecases

import (
	"context"
	"sync"

	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
)

// stateKeeper serializes state transitions for one run and persists every
// applied transition before exposing it. One writer at a time is the
// mutual-exclusion discipline the run state requires; worker goroutines and
// the scheduler loop all go through the same keeper.
type stateKeeper struct {
	mu    sync.Mutex
	store StateStore
	state *runstate.RunState
}

func newStateKeeper(store StateStore, state *runstate.RunState) *stateKeeper {
	return &stateKeeper{store: store, state: state}
}

// apply transforms state through one transition and persists the result
// before returning it. The in-memory view only moves forward once the store
// write succeeded, so a crash never leaves memory ahead of durable state.
func (k *stateKeeper) apply(ctx context.Context, t runstate.Transition) (*runstate.RunState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	next, err := runstate.Apply(k.state, t)
	if err != nil {
		return nil, err
	}
	if err := k.store.WriteState(ctx, next.RunID, next); err != nil {
		return nil, err
	}
	k.state = next
	return next, nil
}

// persist writes the current state without a transition, used once at run
// creation.
func (k *stateKeeper) persist(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.WriteState(ctx, k.state.RunID, k.state)
}

// current returns the latest persisted state.
func (k *stateKeeper) current() *runstate.RunState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}
