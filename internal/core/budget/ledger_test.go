package budget

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

func TestLedger_ReserveCommit(t *testing.T) {
	l := NewLedger(pipeline.CostBudget(10))

	res, err := l.TryReserve("codegen", pipeline.TokenCost(4))
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)

	// Reserved headroom is not yet spend.
	assert.Equal(t, pipeline.TokenCost(0), l.Accumulated())

	// The actual spend may differ from the reservation.
	l.Commit(res, pipeline.TokenCost(2.5))
	assert.Equal(t, pipeline.TokenCost(2.5), l.Accumulated())

	report := l.Report()
	assert.Equal(t, pipeline.TokenCost(0), report.Reserved)
	assert.Equal(t, pipeline.TokenCost(2.5), report.ByNode["codegen"])

	t.Run("double commit is a no-op", func(t *testing.T) {
		l.Commit(res, pipeline.TokenCost(100))
		assert.Equal(t, pipeline.TokenCost(2.5), l.Accumulated())
	})
}

func TestLedger_Release(t *testing.T) {
	l := NewLedger(pipeline.CostBudget(10))

	res, err := l.TryReserve("review", pipeline.TokenCost(6))
	require.NoError(t, err)

	// While held, the headroom is unavailable to others.
	_, err = l.TryReserve("codegen", pipeline.TokenCost(6))
	assert.ErrorIs(t, err, ErrDenied)

	l.Release(res)
	assert.Equal(t, pipeline.TokenCost(0), l.Accumulated())

	_, err = l.TryReserve("codegen", pipeline.TokenCost(6))
	assert.NoError(t, err)
}

func TestLedger_Denial(t *testing.T) {
	l := NewLedger(pipeline.CostBudget(10))

	res, err := l.TryReserve("codegen", pipeline.TokenCost(7))
	require.NoError(t, err)
	l.Commit(res, pipeline.TokenCost(7))

	_, err = l.TryReserve("review", pipeline.TokenCost(4))
	require.Error(t, err)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "review", denied.Node)
	assert.Equal(t, pipeline.TokenCost(4), denied.Wanted)
	assert.Equal(t, pipeline.TokenCost(7), denied.Report.Accumulated)
	assert.Equal(t, pipeline.CostBudget(10), denied.Report.Limit)

	t.Run("denial is non-retryable", func(t *testing.T) {
		assert.False(t, pipeline.PolicyFor(err).Retryable)

		var exceeded *pipeline.BudgetExceededError
		assert.ErrorAs(t, err, &exceeded)
	})

	t.Run("a claim landing exactly on the limit is denied", func(t *testing.T) {
		// Spend on the limit is already exceeded, so reserving the last
		// cent would dispatch a node the post-commit check must halt.
		_, err := l.TryReserve("review", pipeline.TokenCost(3))
		assert.ErrorIs(t, err, ErrDenied)
	})

	t.Run("a claim strictly under the limit is grantable", func(t *testing.T) {
		_, err := l.TryReserve("review", pipeline.TokenCost(2.5))
		assert.NoError(t, err)
	})
}

func TestLedger_ConcurrentReservations(t *testing.T) {
	// Two reservations of 6 against a budget of 10: exactly one must win,
	// regardless of interleaving.
	l := NewLedger(pipeline.CostBudget(10))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.TryReserve("worker", pipeline.TokenCost(6))
		}(i)
	}
	wg.Wait()

	denials := 0
	for _, err := range errs {
		if errors.Is(err, ErrDenied) {
			denials++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, denials)
}

func TestLedger_Exceeded(t *testing.T) {
	l := NewLedger(pipeline.CostBudget(5))
	assert.False(t, l.Exceeded())

	res, err := l.TryReserve("codegen", pipeline.TokenCost(1))
	require.NoError(t, err)
	// Committed spend beyond the reservation still counts.
	l.Commit(res, pipeline.TokenCost(5))

	assert.True(t, l.Exceeded())
}

func TestLedger_Restore(t *testing.T) {
	l := NewLedger(pipeline.CostBudget(10))
	l.Restore(pipeline.TokenCost(9), map[string]pipeline.TokenCost{
		"intake":  pipeline.TokenCost(4),
		"codegen": pipeline.TokenCost(5),
	})

	assert.Equal(t, pipeline.TokenCost(9), l.Accumulated())
	assert.Equal(t, pipeline.TokenCost(4), l.Report().ByNode["intake"])

	// The restored spend constrains new reservations.
	_, err := l.TryReserve("review", pipeline.TokenCost(2))
	assert.ErrorIs(t, err, ErrDenied)

	_, err = l.TryReserve("review", pipeline.TokenCost(0.5))
	assert.NoError(t, err)
}
