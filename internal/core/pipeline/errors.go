// Package pipeline defines domain-specific errors and retry semantics
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Value type errors
	ErrInvalidCost   = errors.New("cost must be a finite non-negative value")
	ErrInvalidBudget = errors.New("budget must be a finite positive value")

	// Run-level errors
	ErrRunNotFound    = errors.New("run not found")
	ErrRunTerminal    = errors.New("run already reached a terminal state")
	ErrStateCorrupted = errors.New("persisted run state is corrupted")
	ErrRunCancelled   = errors.New("run cancelled")
)

// RetryPolicy states whether an error condition is safe to retry and, if so,
// after what minimum delay. Infrastructure errors produce a RetryPolicy so
// the orchestrator can decide whether to re-invoke without escalating.
//
// Retryable: API timeouts, transient rate-limit responses.
// Non-retryable: budget exceeded, invalid configuration, cancellation.
type RetryPolicy struct {
	Retryable bool          `json:"retryable"`
	After     time.Duration `json:"after,omitempty"` // minimum back-off before the next attempt
}

// Retryable builds a retryable policy with an optional minimum delay.
func Retryable(after time.Duration) RetryPolicy {
	return RetryPolicy{Retryable: true, After: after}
}

// NonRetryable builds a policy that requires escalation or halt.
func NonRetryable() RetryPolicy {
	return RetryPolicy{Retryable: false}
}

// RetryClassifier is implemented by errors that carry retry semantics.
type RetryClassifier interface {
	RetryPolicy() RetryPolicy
}

// PolicyFor extracts the retry policy from an error chain. Errors that do not
// classify themselves are treated as retryable with no mandated delay, since
// unknown infrastructure failures are assumed transient until retries exhaust.
func PolicyFor(err error) RetryPolicy {
	var rc RetryClassifier
	if errors.As(err, &rc) {
		return rc.RetryPolicy()
	}
	return Retryable(0)
}

// ConfigurationError reports an invalid graph or runtime configuration.
// Produced at load time; the executor never starts a run with an invalid
// configuration.
type ConfigurationError struct {
	Subject string // offending node, edge, or config key
	Message string
	Err     error // underlying sentinel, when one applies
}

func (e *ConfigurationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Message)
}

// Unwrap exposes the underlying sentinel for errors.Is checks.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// RetryPolicy implements RetryClassifier.
func (e *ConfigurationError) RetryPolicy() RetryPolicy { return NonRetryable() }

// BudgetExceededError reports that accumulated token cost reached the
// configured budget before the run completed.
type BudgetExceededError struct {
	Accumulated TokenCost
	Limit       CostBudget
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("cost budget exceeded: accumulated %s, limit %s", e.Accumulated, e.Limit)
}

// RetryPolicy implements RetryClassifier.
func (e *BudgetExceededError) RetryPolicy() RetryPolicy { return NonRetryable() }

// CycleExhaustedError reports that a rework edge reached its maximum
// traversal count and no overflow edge is configured.
type CycleExhaustedError struct {
	Edge       string
	Traversals int
	Max        int
}

func (e *CycleExhaustedError) Error() string {
	return fmt.Sprintf("cycle edge %s exhausted: %d of %d traversals used", e.Edge, e.Traversals, e.Max)
}

// RetryPolicy implements RetryClassifier.
func (e *CycleExhaustedError) RetryPolicy() RetryPolicy { return NonRetryable() }

// HaltError reports that the pipeline was halted by an explicit decision
// rather than a transient failure.
type HaltError struct {
	Reason string
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("pipeline halted: %s", e.Reason)
}

// RetryPolicy implements RetryClassifier.
func (e *HaltError) RetryPolicy() RetryPolicy { return NonRetryable() }
