// Package budget provides the atomic cost-accounting ledger shared by
// concurrently executing nodes.
//
// Reservation-then-commit (rather than a single post-hoc debit) lets
// concurrent nodes claim headroom before spending it, so two parallel nodes
// can never each believe they are within budget and jointly overspend.
// PRINCIPLES:
// - KISS: One mutex, plain maps
// - SRP: Only responsible for cost accounting
package budget

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// Ledger is the per-run cost ledger. All reservations and commits go through
// a single point of mutual exclusion; a race that under-counts cost is a
// correctness bug, not a tolerable approximation.
type Ledger struct {
	mu           sync.Mutex
	limit        pipeline.CostBudget
	committed    pipeline.TokenCost
	reserved     pipeline.TokenCost
	byNode       map[string]pipeline.TokenCost
	reservations map[string]*Reservation
}

// Reservation is a claim on budget headroom, held from before dispatch until
// the actual spend is known.
type Reservation struct {
	ID     string
	Node   string
	Amount pipeline.TokenCost
}

// NewLedger creates a ledger bounded by the run-level budget.
func NewLedger(limit pipeline.CostBudget) *Ledger {
	return &Ledger{
		limit:        limit,
		byNode:       make(map[string]pipeline.TokenCost),
		reservations: make(map[string]*Reservation),
	}
}

// Restore pre-loads committed spend from persisted run state so a resumed
// run continues against the same headroom.
func (l *Ledger) Restore(total pipeline.TokenCost, byNode map[string]pipeline.TokenCost) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = total
	for node, cost := range byNode {
		l.byNode[node] = cost
	}
}

// TryReserve atomically claims headroom for one node execution. A claim that
// would land spend on or past the limit is denied, matching the exceeded
// check on committed cost. Denial is non-retryable: it returns a
// BudgetExceededError wrapped in ErrDenied along with a report sufficient to
// explain the halt without replaying logs.
func (l *Ledger) TryReserve(node string, amount pipeline.TokenCost) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if float64(l.committed+l.reserved+amount) >= float64(l.limit) {
		return nil, &DeniedError{
			Report: l.reportLocked(),
			Node:   node,
			Wanted: amount,
		}
	}

	res := &Reservation{ID: uuid.NewString(), Node: node, Amount: amount}
	l.reserved += amount
	l.reservations[res.ID] = res
	return res, nil
}

// Commit replaces a reservation with the actual spend. The actual amount may
// differ from the reserved amount in either direction; the ledger records
// what was really spent.
func (l *Ledger) Commit(res *Reservation, actual pipeline.TokenCost) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.reservations[res.ID]; !held {
		return // already committed or released
	}
	delete(l.reservations, res.ID)
	l.reserved -= res.Amount
	l.committed += actual
	l.byNode[res.Node] += actual
}

// Release abandons a reservation without spending, e.g. when dispatch failed
// before the external call was made.
func (l *Ledger) Release(res *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.reservations[res.ID]; !held {
		return
	}
	delete(l.reservations, res.ID)
	l.reserved -= res.Amount
}

// Accumulated returns the committed spend so far.
func (l *Ledger) Accumulated() pipeline.TokenCost {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// Exceeded reports whether committed spend has reached the budget.
func (l *Ledger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit.IsExceededBy(l.committed)
}

// Report snapshots the ledger for halt reports.
func (l *Ledger) Report() CostReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reportLocked()
}

func (l *Ledger) reportLocked() CostReport {
	byNode := make(map[string]pipeline.TokenCost, len(l.byNode))
	for node, cost := range l.byNode {
		byNode[node] = cost
	}
	return CostReport{
		Accumulated: l.committed,
		Reserved:    l.reserved,
		Limit:       l.limit,
		ByNode:      byNode,
	}
}
