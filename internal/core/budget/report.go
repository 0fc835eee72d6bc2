package budget

import (
	"errors"
	"fmt"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// ErrDenied is the sentinel matched by errors.Is for reservation denials.
var ErrDenied = errors.New("budget reservation denied")

// CostReport is a structured snapshot of the ledger, sufficient to explain a
// budget halt to a human without replaying the audit log.
type CostReport struct {
	Accumulated pipeline.TokenCost            `json:"accumulated"`
	Reserved    pipeline.TokenCost            `json:"reserved"`
	Limit       pipeline.CostBudget           `json:"limit"`
	ByNode      map[string]pipeline.TokenCost `json:"by_node"`
}

// DeniedError reports a failed reservation along with the ledger snapshot at
// the moment of denial.
type DeniedError struct {
	Report CostReport
	Node   string
	Wanted pipeline.TokenCost
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("budget reservation denied for node %s: wanted %s, accumulated %s, limit %s",
		e.Node, e.Wanted, e.Report.Accumulated, e.Report.Limit)
}

// Is matches ErrDenied.
func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Unwrap exposes the domain budget error so callers can classify retryability.
func (e *DeniedError) Unwrap() error {
	return &pipeline.BudgetExceededError{Accumulated: e.Report.Accumulated, Limit: e.Report.Limit}
}

// RetryPolicy implements pipeline.RetryClassifier: denial is never retried.
func (e *DeniedError) RetryPolicy() pipeline.RetryPolicy { return pipeline.NonRetryable() }
