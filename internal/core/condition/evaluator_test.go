package condition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
)

// fakeOracle returns a scripted decision, optionally after a delay.
type fakeOracle struct {
	decision Decision
	err      error
	delay    time.Duration
	calls    int
	lastReq  Request
}

func (f *fakeOracle) EvaluateCondition(ctx context.Context, req Request) (Decision, error) {
	f.calls++
	f.lastReq = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return f.decision, f.err
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{"always", Always(), nil},
		{"deterministic", Deterministic("approved == true"), nil},
		{"unparsable expression", Deterministic("approved =="), ErrUnparsableExpression},
		{"external with prompt", External("is the code reviewed?", false), nil},
		{"external without prompt", Spec{Kind: KindExternal}, ErrMissingPrompt},
		{"unknown kind", Spec{Kind: "psychic"}, ErrInvalidKind},
		{
			"and composite",
			Spec{Kind: KindComposite, Op: OpAnd, Subs: []Spec{Always(), Always()}},
			nil,
		},
		{
			"and with one sub",
			Spec{Kind: KindComposite, Op: OpAnd, Subs: []Spec{Always()}},
			ErrTooFewSubConditions,
		},
		{
			"not with two subs",
			Spec{Kind: KindComposite, Op: OpNot, Subs: []Spec{Always(), Always()}},
			ErrNotArity,
		},
		{
			"composite without operator",
			Spec{Kind: KindComposite, Subs: []Spec{Always(), Always()}},
			ErrInvalidOperator,
		},
		{
			"invalid nested sub",
			Spec{Kind: KindComposite, Op: OpOr, Subs: []Spec{Always(), Deterministic("((")}},
			ErrUnparsableExpression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEvaluator_Deterministic(t *testing.T) {
	e := NewEvaluator(nil, audit.NewMemorySink(), 0, nil)
	ctx := context.Background()
	snapshot := map[string]any{"review_approved": true, "retries": 2}

	t.Run("true expression", func(t *testing.T) {
		v, err := e.Evaluate(ctx, "r1", "approve", Deterministic("review_approved == true"), snapshot)
		require.NoError(t, err)
		assert.True(t, v)
	})

	t.Run("false expression", func(t *testing.T) {
		v, err := e.Evaluate(ctx, "r1", "rework", Deterministic("retries > 5"), snapshot)
		require.NoError(t, err)
		assert.False(t, v)
	})

	t.Run("empty expression is always satisfied", func(t *testing.T) {
		v, err := e.Evaluate(ctx, "r1", "next", Always(), snapshot)
		require.NoError(t, err)
		assert.True(t, v)
	})

	t.Run("non-boolean result is an error", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "r1", "next", Deterministic("retries + 1"), snapshot)
		assert.ErrorIs(t, err, ErrEvaluationFailed)
	})

	t.Run("missing variable is an error", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "r1", "next", Deterministic("nonexistent == true"), snapshot)
		assert.ErrorIs(t, err, ErrEvaluationFailed)
	})
}

func TestEvaluator_External(t *testing.T) {
	ctx := context.Background()
	spec := External("does the design cover concurrency?", false)

	t.Run("oracle decision is used", func(t *testing.T) {
		oracle := &fakeOracle{decision: Decision{Value: true, Rationale: "design section 3 covers it"}}
		sink := audit.NewMemorySink()
		e := NewEvaluator(oracle, sink, 0, nil)

		v, err := e.Evaluate(ctx, "r1", "design-ok", spec, map[string]any{"design": "..."})
		require.NoError(t, err)
		assert.True(t, v)
		assert.Equal(t, 1, oracle.calls)
		assert.Equal(t, "r1", oracle.lastReq.RunID)
		assert.Equal(t, "design-ok", oracle.lastReq.Edge)

		events := sink.ByKind(audit.KindConditionEvaluated)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].Decision)
		assert.True(t, *events[0].Decision)
		assert.Equal(t, "design section 3 covers it", events[0].Rationale)
	})

	t.Run("nil oracle resolves to fallback", func(t *testing.T) {
		sink := audit.NewMemorySink()
		e := NewEvaluator(nil, sink, 0, nil)

		v, err := e.Evaluate(ctx, "r1", "design-ok", External("covered?", true), nil)
		require.NoError(t, err)
		assert.True(t, v)

		events := sink.ByKind(audit.KindConditionEvaluated)
		require.Len(t, events, 1)
		assert.Contains(t, events[0].Rationale, "no oracle configured")
	})

	t.Run("oracle error resolves to fallback", func(t *testing.T) {
		oracle := &fakeOracle{err: errors.New("rate limited")}
		sink := audit.NewMemorySink()
		e := NewEvaluator(oracle, sink, 0, nil)

		v, err := e.Evaluate(ctx, "r1", "design-ok", spec, nil)
		require.NoError(t, err)
		assert.False(t, v) // declared fallback, never silently true

		events := sink.ByKind(audit.KindConditionEvaluated)
		require.Len(t, events, 1)
		assert.Contains(t, events[0].Rationale, "oracle error")
	})

	t.Run("answer without rationale resolves to fallback", func(t *testing.T) {
		oracle := &fakeOracle{decision: Decision{Value: true}}
		sink := audit.NewMemorySink()
		e := NewEvaluator(oracle, sink, 0, nil)

		v, err := e.Evaluate(ctx, "r1", "design-ok", spec, nil)
		require.NoError(t, err)
		assert.False(t, v)
	})

	t.Run("oracle timeout resolves to fallback", func(t *testing.T) {
		oracle := &fakeOracle{
			decision: Decision{Value: true, Rationale: "too late"},
			delay:    200 * time.Millisecond,
		}
		sink := audit.NewMemorySink()
		e := NewEvaluator(oracle, sink, 20*time.Millisecond, nil)

		v, err := e.Evaluate(ctx, "r1", "design-ok", spec, nil)
		require.NoError(t, err)
		assert.False(t, v)

		events := sink.ByKind(audit.KindConditionEvaluated)
		require.Len(t, events, 1)
		assert.Contains(t, events[0].Rationale, "oracle error")
	})
}

func TestEvaluator_Composite(t *testing.T) {
	ctx := context.Background()
	snapshot := map[string]any{"approved": true, "cost_total": 2.0}

	t.Run("and", func(t *testing.T) {
		e := NewEvaluator(nil, audit.NewMemorySink(), 0, nil)
		spec := Spec{Kind: KindComposite, Op: OpAnd, Subs: []Spec{
			Deterministic("approved == true"),
			Deterministic("cost_total < 10"),
		}}
		v, err := e.Evaluate(ctx, "r1", "gate", spec, snapshot)
		require.NoError(t, err)
		assert.True(t, v)
	})

	t.Run("or short-circuits remaining deterministic subs", func(t *testing.T) {
		e := NewEvaluator(nil, audit.NewMemorySink(), 0, nil)
		spec := Spec{Kind: KindComposite, Op: OpOr, Subs: []Spec{
			Deterministic("approved == true"),
			// Would error if evaluated: the variable does not exist.
			Deterministic("ghost == true"),
		}}
		v, err := e.Evaluate(ctx, "r1", "gate", spec, snapshot)
		require.NoError(t, err)
		assert.True(t, v)
	})

	t.Run("not", func(t *testing.T) {
		e := NewEvaluator(nil, audit.NewMemorySink(), 0, nil)
		spec := Spec{Kind: KindComposite, Op: OpNot, Subs: []Spec{
			Deterministic("approved == true"),
		}}
		v, err := e.Evaluate(ctx, "r1", "gate", spec, snapshot)
		require.NoError(t, err)
		assert.False(t, v)
	})

	t.Run("external subs are still consulted after the result is decided", func(t *testing.T) {
		oracle := &fakeOracle{decision: Decision{Value: false, Rationale: "not covered"}}
		sink := audit.NewMemorySink()
		e := NewEvaluator(oracle, sink, 0, nil)

		spec := Spec{Kind: KindComposite, Op: OpOr, Subs: []Spec{
			Deterministic("approved == true"), // decides the OR
			External("is it covered?", false),
		}}
		v, err := e.Evaluate(ctx, "r1", "gate", spec, snapshot)
		require.NoError(t, err)
		assert.True(t, v)

		// The oracle was invoked and audited even though the OR was decided.
		assert.Equal(t, 1, oracle.calls)
		assert.Len(t, sink.ByKind(audit.KindConditionEvaluated), 1)
	})

	t.Run("sub-condition error propagates", func(t *testing.T) {
		e := NewEvaluator(nil, audit.NewMemorySink(), 0, nil)
		spec := Spec{Kind: KindComposite, Op: OpAnd, Subs: []Spec{
			Deterministic("ghost == true"),
			Always(),
		}}
		_, err := e.Evaluate(ctx, "r1", "gate", spec, snapshot)
		assert.ErrorIs(t, err, ErrEvaluationFailed)
	})
}

func TestSpec_HasExternal(t *testing.T) {
	assert.False(t, Always().HasExternal())
	assert.True(t, External("?", false).HasExternal())
	assert.True(t, Spec{
		Kind: KindComposite, Op: OpAnd,
		Subs: []Spec{Always(), Spec{Kind: KindComposite, Op: OpNot, Subs: []Spec{External("?", true)}}},
	}.HasExternal())
}
