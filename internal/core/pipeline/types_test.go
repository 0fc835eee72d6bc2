package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenCost(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"zero", 0, false},
		{"positive", 1.25, false},
		{"negative", -0.01, true},
		{"nan", math.NaN(), true},
		{"infinite", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := NewTokenCost(tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TokenCost(tt.value), cost)
		})
	}
}

func TestTokenCost_String(t *testing.T) {
	cost := TokenCost(1.2345678)
	assert.Equal(t, "$1.234568", cost.String())
	assert.Equal(t, "$0.000000", TokenCost(0).String())
}

func TestNewCostBudget(t *testing.T) {
	_, err := NewCostBudget(0)
	assert.ErrorIs(t, err, ErrInvalidBudget)

	_, err = NewCostBudget(-5)
	assert.ErrorIs(t, err, ErrInvalidBudget)

	b, err := NewCostBudget(10)
	require.NoError(t, err)
	assert.Equal(t, CostBudget(10), b)
}

func TestCostBudget_IsExceededBy(t *testing.T) {
	b := CostBudget(10)

	assert.False(t, b.IsExceededBy(TokenCost(9.999999)))
	// Reaching the limit exactly counts as exceeded.
	assert.True(t, b.IsExceededBy(TokenCost(10)))
	assert.True(t, b.IsExceededBy(TokenCost(10.5)))
}

func TestTokenCount_Add(t *testing.T) {
	assert.Equal(t, TokenCount(30), TokenCount(10).Add(TokenCount(20)))
	assert.True(t, TokenCount(0).IsZero())
}

func TestHasBlocking(t *testing.T) {
	diags := []Diagnostic{
		{Severity: SeverityWarning, Category: CategoryCompleteness, Message: "missing docs"},
		{Severity: SeverityInformational, Category: CategoryTestFailure, Message: "slow test"},
	}
	assert.False(t, HasBlocking(diags))

	diags = append(diags, Diagnostic{Severity: SeverityBlocking, Category: CategorySyntaxError, Message: "parse error"})
	assert.True(t, HasBlocking(diags))
}

func TestPolicyFor(t *testing.T) {
	t.Run("unknown errors are retryable", func(t *testing.T) {
		policy := PolicyFor(assert.AnError)
		assert.True(t, policy.Retryable)
	})

	t.Run("budget exceeded is not retryable", func(t *testing.T) {
		policy := PolicyFor(&BudgetExceededError{Accumulated: 11, Limit: 10})
		assert.False(t, policy.Retryable)
	})

	t.Run("configuration errors are not retryable", func(t *testing.T) {
		policy := PolicyFor(&ConfigurationError{Subject: "n1", Message: "bad node"})
		assert.False(t, policy.Retryable)
	})

	t.Run("cycle exhaustion is not retryable", func(t *testing.T) {
		policy := PolicyFor(&CycleExhaustedError{Edge: "rework", Traversals: 3, Max: 3})
		assert.False(t, policy.Retryable)
	})
}
