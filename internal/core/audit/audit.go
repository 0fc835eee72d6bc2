// Package audit provides the append-only audit trail for pipeline runs.
// Every oracle consultation and node-boundary transition is recorded here
// before the corresponding decision is applied to run state, so two runs may
// diverge in routing yet each remain individually explainable.
package audit

import (
	"context"
	"sync"
	"time"
)

// EventKind classifies an audit trail entry.
type EventKind string

const (
	// KindConditionEvaluated records one oracle or deterministic edge decision.
	KindConditionEvaluated EventKind = "condition_evaluated"
	// KindNodeAnnounced records the durable checkpoint before node dispatch.
	KindNodeAnnounced EventKind = "node_announced"
	// KindNodeRecorded records a node's outputs, cost, and latency.
	KindNodeRecorded EventKind = "node_recorded"
	// KindNodeFailed records an execution or validation failure.
	KindNodeFailed EventKind = "node_failed"
	// KindRunHalted records a non-retryable halt with its report.
	KindRunHalted EventKind = "run_halted"
	// KindRunCompleted records a successful terminal transition.
	KindRunCompleted EventKind = "run_completed"
)

// Event is one audit trail entry.
type Event struct {
	Time      time.Time      `json:"time"`
	RunID     string         `json:"run_id"`
	Kind      EventKind      `json:"kind"`
	Node      string         `json:"node,omitempty"`
	Edge      string         `json:"edge,omitempty"`
	Decision  *bool          `json:"decision,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Sink is the append-only destination for audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// MemorySink is a thread-safe in-memory Sink, used in tests and as the
// default when no durable sink is configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the event.
func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all recorded events in append order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByKind returns recorded events of one kind, in append order.
func (s *MemorySink) ByKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
