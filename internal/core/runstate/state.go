// Package runstate provides the single source of truth for one pipeline run:
// armed/active/completed/failed node sets, per-cycle traversal counters,
// cumulative cost, and per-node outputs.
//
// State is an explicitly passed, versioned value transformed only by pure
// transition functions (see Apply); persistence is a separate, explicit step.
// That separation is what makes crash-resumption correct: the store can
// always be reloaded from the last persisted state and fed back into
// EligibleNodes to recompute exactly the same next step.
package runstate

import (
	"time"

	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status permits no further execution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusHalted || s == StatusCancelled
}

// NodeResult is a recorded node execution: write-once outputs plus the cost
// and latency of the attempt that produced them.
type NodeResult struct {
	Outputs    map[string]any     `json:"outputs"`
	Cost       pipeline.TokenCost `json:"cost"`
	Latency    time.Duration      `json:"latency"`
	RecordedAt time.Time          `json:"recorded_at"`
	Executions int                `json:"executions"` // total executions including rework passes
}

// AttemptFailure is one failed execution or validation attempt.
type AttemptFailure struct {
	At       time.Time `json:"at"`
	Stage    string    `json:"stage"` // "executing" or "validating"
	Message  string    `json:"message"`
	Feedback string    `json:"feedback,omitempty"` // validation detail fed back on retry
}

// FailureRecord accumulates a node's failure history across retries.
type FailureRecord struct {
	Node        string           `json:"node"`
	Attempts    []AttemptFailure `json:"attempts"`
	RetriesLeft int              `json:"retries_left"`
	Exhausted   bool             `json:"exhausted"`
}

// CostTally mirrors the budget ledger inside persisted state so resumed runs
// rebuild the ledger from durable data.
type CostTally struct {
	Total  pipeline.TokenCost            `json:"total"`
	ByNode map[string]pipeline.TokenCost `json:"by_node"`
}

// HaltReport is the human-readable structured report every halt produces:
// reason, accumulated cost, last successful node, and retry history, enough
// to diagnose without replaying the audit log.
type HaltReport struct {
	Reason        string                        `json:"reason"`
	Accumulated   pipeline.TokenCost            `json:"accumulated"`
	Limit         pipeline.CostBudget           `json:"limit,omitempty"`
	CostByNode    map[string]pipeline.TokenCost `json:"cost_by_node,omitempty"`
	LastRecorded  string                        `json:"last_recorded,omitempty"`
	RetryHistory  map[string]int                `json:"retry_history,omitempty"` // node -> failed attempts
	HaltedAt      time.Time                     `json:"halted_at"`
	OffendingNode string                        `json:"offending_node,omitempty"`
	OffendingEdge string                        `json:"offending_edge,omitempty"`
}

// RunState is the mutable record of one execution of a graph against one
// unit of work. It is mutated exclusively through Apply.
type RunState struct {
	RunID    string              `json:"run_id"`
	Pipeline string              `json:"pipeline"`
	WorkItem pipeline.WorkItemID `json:"work_item,omitempty"`
	Status   Status              `json:"status"`

	// Initial is the run-level initial state, set once at creation.
	Initial map[string]any `json:"initial,omitempty"`

	// Carried holds outputs retained across a cycle re-entry: the re-opened
	// node leaves Completed, but a retain-all edge keeps its prior outputs
	// visible here until the rework pass overwrites them.
	Carried map[string]any `json:"carried,omitempty"`

	// PriorExecutions preserves execution counts of re-opened nodes so the
	// total across rework passes survives re-entry.
	PriorExecutions map[string]int `json:"prior_executions,omitempty"`

	// Armed holds nodes enabled by a fired incoming edge (or the start node
	// at creation). An armed node becomes eligible once its inputs are
	// satisfied.
	Armed map[string]bool `json:"armed,omitempty"`

	// Active holds currently announced/executing nodes keyed by the time
	// they were announced. May hold several entries under parallel fan-out.
	Active map[string]time.Time `json:"active,omitempty"`

	Completed  map[string]NodeResult     `json:"completed,omitempty"`
	Failed     map[string]*FailureRecord `json:"failed,omitempty"`
	Traversals map[string]int            `json:"traversals,omitempty"` // cycle-edge counter key -> count
	Cost       CostTally                 `json:"cost"`

	// Budget is the run-level cost ceiling, persisted so a resumed run
	// rebuilds its ledger from durable data. Zero disables the ceiling.
	Budget pipeline.CostBudget `json:"budget,omitempty"`

	Halt      *HaltReport `json:"halt,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates the state for a fresh run with the graph's start node armed.
func New(runID string, g *graph.Graph, workItem pipeline.WorkItemID, initial map[string]any) *RunState {
	now := time.Now().UTC()
	if initial == nil {
		initial = map[string]any{}
	}
	return &RunState{
		RunID:           runID,
		Pipeline:        g.Name(),
		WorkItem:        workItem,
		Status:          StatusRunning,
		Initial:         initial,
		Carried:         map[string]any{},
		PriorExecutions: map[string]int{},
		Armed:           map[string]bool{g.Start().Name: true},
		Active:          map[string]time.Time{},
		Completed:       map[string]NodeResult{},
		Failed:          map[string]*FailureRecord{},
		Traversals:      map[string]int{},
		Cost:            CostTally{ByNode: map[string]pipeline.TokenCost{}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone deep-copies the state so transitions stay pure.
func (s *RunState) Clone() *RunState {
	out := *s
	out.Initial = cloneAnyMap(s.Initial)
	out.Carried = cloneAnyMap(s.Carried)
	out.PriorExecutions = make(map[string]int, len(s.PriorExecutions))
	for k, v := range s.PriorExecutions {
		out.PriorExecutions[k] = v
	}
	out.Armed = cloneBoolMap(s.Armed)
	out.Active = cloneTimeMap(s.Active)

	out.Completed = make(map[string]NodeResult, len(s.Completed))
	for name, r := range s.Completed {
		r.Outputs = cloneAnyMap(r.Outputs)
		out.Completed[name] = r
	}

	out.Failed = make(map[string]*FailureRecord, len(s.Failed))
	for name, f := range s.Failed {
		fc := *f
		fc.Attempts = append([]AttemptFailure(nil), f.Attempts...)
		out.Failed[name] = &fc
	}

	out.Traversals = make(map[string]int, len(s.Traversals))
	for k, v := range s.Traversals {
		out.Traversals[k] = v
	}

	out.Cost = CostTally{Total: s.Cost.Total, ByNode: make(map[string]pipeline.TokenCost, len(s.Cost.ByNode))}
	for k, v := range s.Cost.ByNode {
		out.Cost.ByNode[k] = v
	}

	if s.Halt != nil {
		h := *s.Halt
		out.Halt = &h
	}
	return &out
}

// Snapshot flattens initial state and completed outputs into the map that
// condition expressions and oracle prompts evaluate against. Later outputs
// shadow initial keys of the same name.
func (s *RunState) Snapshot() map[string]any {
	snap := make(map[string]any, len(s.Initial)+len(s.Carried))
	for k, v := range s.Initial {
		snap[k] = v
	}
	for k, v := range s.Carried {
		snap[k] = v
	}
	for _, result := range s.Completed {
		for k, v := range result.Outputs {
			snap[k] = v
		}
	}
	snap["cost_total"] = float64(s.Cost.Total)
	return snap
}

// LastRecorded returns the most recently recorded node, if any.
func (s *RunState) LastRecorded() string {
	var name string
	var at time.Time
	for n, r := range s.Completed {
		if r.RecordedAt.After(at) {
			name, at = n, r.RecordedAt
		}
	}
	return name
}

// RetryHistory summarises failed attempts per node for halt reports.
func (s *RunState) RetryHistory() map[string]int {
	if len(s.Failed) == 0 {
		return nil
	}
	out := make(map[string]int, len(s.Failed))
	for node, rec := range s.Failed {
		out[node] = len(rec.Attempts)
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBoolMap(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTimeMap(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
