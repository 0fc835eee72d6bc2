package runstate

import (
	"time"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// Transition is one node-boundary state change. Apply is the only mutator of
// run state; every variant is applied to a clone so callers can persist the
// old and new values independently.
type Transition interface {
	apply(s *RunState) error
}

// Apply transforms state through one transition, returning a new value and
// leaving the input untouched. Transitions against a terminal run fail with
// ErrRunTerminal except for explicit halt bookkeeping.
func Apply(s *RunState, t Transition) (*RunState, error) {
	if s.Status.Terminal() {
		return nil, pipeline.ErrRunTerminal
	}
	next := s.Clone()
	if err := t.apply(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// Announce marks a node dispatched. This is the durable checkpoint a resume
// reads: an announced-but-unrecorded node re-runs after a crash.
type Announce struct {
	Node string
	At   time.Time
}

func (t Announce) apply(s *RunState) error {
	if s.Armed == nil || !s.Armed[t.Node] {
		return ErrNodeNotArmed
	}
	if _, active := s.Active[t.Node]; active {
		return ErrNodeAlreadyActive
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	delete(s.Armed, t.Node)
	s.Active[t.Node] = at
	return nil
}

// Record stores a node's write-once outputs along with cost and latency, and
// clears any failure record accumulated by earlier retries.
type Record struct {
	Node    string
	Outputs map[string]any
	Cost    pipeline.TokenCost
	Latency time.Duration
}

func (t Record) apply(s *RunState) error {
	if _, active := s.Active[t.Node]; !active {
		return ErrNodeNotActive
	}
	delete(s.Active, t.Node)

	executions := 1 + s.PriorExecutions[t.Node]
	delete(s.PriorExecutions, t.Node)
	if rec, ok := s.Failed[t.Node]; ok {
		executions += len(rec.Attempts)
		delete(s.Failed, t.Node)
	}

	// Fresh outputs shadow anything a retain-all re-entry carried over.
	for k := range t.Outputs {
		delete(s.Carried, k)
	}

	s.Completed[t.Node] = NodeResult{
		Outputs:    cloneAnyMap(t.Outputs),
		Cost:       t.Cost,
		Latency:    t.Latency,
		RecordedAt: time.Now().UTC(),
		Executions: executions,
	}
	s.Cost.Total += t.Cost
	s.Cost.ByNode[t.Node] += t.Cost
	return nil
}

// Fail records one failed attempt and decrements the retry budget. The node
// leaves the active set; the executor re-announces it while retries remain.
type Fail struct {
	Node       string
	Stage      string // "executing" or "validating"
	Message    string
	Feedback   string
	RetryLimit int
	Cost       pipeline.TokenCost // spend committed by the failed attempt
}

func (t Fail) apply(s *RunState) error {
	if _, active := s.Active[t.Node]; !active {
		return ErrNodeNotActive
	}
	delete(s.Active, t.Node)

	rec, ok := s.Failed[t.Node]
	if !ok {
		rec = &FailureRecord{Node: t.Node, RetriesLeft: t.RetryLimit}
		s.Failed[t.Node] = rec
	}
	rec.Attempts = append(rec.Attempts, AttemptFailure{
		At:       time.Now().UTC(),
		Stage:    t.Stage,
		Message:  t.Message,
		Feedback: t.Feedback,
	})
	if rec.RetriesLeft > 0 {
		rec.RetriesLeft--
		s.Armed[t.Node] = true // eligible for the retry pass
	} else {
		rec.Exhausted = true
	}

	if t.Cost > 0 {
		s.Cost.Total += t.Cost
		s.Cost.ByNode[t.Node] += t.Cost
	}
	return nil
}

// Recover re-arms every announced-but-unrecorded node. A resume applies it
// once before driving: an execution that was in flight when the process died
// left no durable result, so the node runs again.
type Recover struct{}

func (t Recover) apply(s *RunState) error {
	for node := range s.Active {
		delete(s.Active, node)
		s.Armed[node] = true
	}
	return nil
}

// Arm enables downstream nodes after edge evaluation. Arming a completed
// node re-opens it for a rework pass.
type Arm struct {
	Nodes []string
}

func (t Arm) apply(s *RunState) error {
	for _, node := range t.Nodes {
		s.Armed[node] = true
		if result, done := s.Completed[node]; done {
			// Re-entry: the node runs again. Prior outputs move to Carried
			// so a retain-all edge keeps them visible until overwritten;
			// a discard-outputs edge removes them via a Discard transition.
			delete(s.Completed, node)
			s.PriorExecutions[node] = result.Executions
			for k, v := range result.Outputs {
				s.Carried[k] = v
			}
		}
	}
	return nil
}

// Traverse increments a cycle edge's traversal counter.
type Traverse struct {
	CounterKey string
}

func (t Traverse) apply(s *RunState) error {
	s.Traversals[t.CounterKey]++
	return nil
}

// Discard removes carried output keys, implementing a cycle edge's
// discard-outputs retention policy on re-entry.
type Discard struct {
	Keys []string
}

func (t Discard) apply(s *RunState) error {
	for _, k := range t.Keys {
		delete(s.Carried, k)
	}
	return nil
}

// Cancel flags the run; in-flight nodes finish, nothing new is announced.
type Cancel struct{}

func (t Cancel) apply(s *RunState) error {
	s.Cancelled = true
	return nil
}

// Finish moves the run to a terminal status. A HaltReport is mandatory for
// StatusHalted.
type Finish struct {
	Status Status
	Halt   *HaltReport
}

func (t Finish) apply(s *RunState) error {
	if !t.Status.Terminal() {
		return ErrNotTerminalStatus
	}
	if t.Status == StatusHalted && t.Halt == nil {
		return ErrMissingHaltReport
	}
	s.Status = t.Status
	s.Halt = t.Halt
	return nil
}
