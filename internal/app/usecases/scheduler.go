package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pvandervelde/cog-works-sub002/internal/app/dto"
	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
	"github.com/pvandervelde/cog-works-sub002/internal/core/budget"
	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
	imetrics "github.com/pvandervelde/cog-works-sub002/internal/infrastructure/metrics"
)

// DefaultMaxConcurrent bounds simultaneous long-running node executions when
// the run config does not say otherwise.
const DefaultMaxConcurrent = 3

// Scheduler drives runs to a terminal state: it computes the eligible set,
// dispatches nodes through the executor under a bounded worker pool, and
// advances the graph via the condition evaluator after every recorded node.
// One control loop per run owns the authoritative view of eligibility.
// PRINCIPLES:
// - SRP: Single responsibility for run orchestration
// - DIP: Depends on StateStore/Oracle abstractions, not concretions
type Scheduler struct {
	store     StateStore
	executor  *NodeExecutor
	evaluator *condition.Evaluator
	audit     audit.Sink
	logger    *slog.Logger

	mu     sync.Mutex
	graphs map[string]*graph.Graph
	active map[string]*stateKeeper // in-flight runs, for cancellation/status
}

// NewScheduler wires the orchestrator. The sink and logger default like the
// executor's.
func NewScheduler(store StateStore, executor *NodeExecutor, evaluator *condition.Evaluator, sink audit.Sink, logger *slog.Logger) *Scheduler {
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     store,
		executor:  executor,
		evaluator: evaluator,
		audit:     sink,
		logger:    logger,
		graphs:    map[string]*graph.Graph{},
		active:    map[string]*stateKeeper{},
	}
}

// RegisterGraph makes a loaded pipeline available by name.
func (s *Scheduler) RegisterGraph(g *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[g.Name()] = g
}

func (s *Scheduler) graphByName(name string) (*graph.Graph, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[name]
	return g, ok
}

// StartRun creates a fresh run and drives it to a terminal outcome.
func (s *Scheduler) StartRun(ctx context.Context, req *dto.RunRequest) (*dto.RunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	g, ok := s.graphByName(req.Pipeline)
	if !ok {
		return nil, &pipeline.ConfigurationError{
			Subject: req.Pipeline, Message: "pipeline is not registered", Err: ErrUnknownPipeline,
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	state := runstate.New(runID, g, req.WorkItem, req.Initial)
	if req.Config.BudgetLimit > 0 {
		limit, err := pipeline.NewCostBudget(req.Config.BudgetLimit)
		if err != nil {
			return nil, err
		}
		state.Budget = limit
	}

	keeper := newStateKeeper(s.store, state)
	if err := keeper.persist(ctx); err != nil {
		return nil, fmt.Errorf("persist initial state: %w", err)
	}
	s.logger.Info("run started",
		"run", runID, "pipeline", g.Name(), "work_item", req.WorkItem.String())
	imetrics.IncRunsStarted()

	return s.drive(ctx, g, keeper, req.Config)
}

// ResumeRun reloads a persisted run and continues it. Re-invoking on a run
// already at a terminal state performs no node execution and returns the
// same outcome.
func (s *Scheduler) ResumeRun(ctx context.Context, runID string, cfg dto.RunConfig) (*dto.RunResponse, error) {
	state, err := s.store.ReadState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return outcomeOf(state), nil
	}
	g, ok := s.graphByName(state.Pipeline)
	if !ok {
		return nil, &pipeline.ConfigurationError{
			Subject: state.Pipeline, Message: "pipeline is not registered", Err: ErrUnknownPipeline,
		}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	keeper := newStateKeeper(s.store, state)
	if len(state.Active) > 0 {
		// Executions in flight at crash time left no durable result.
		if _, err := keeper.apply(ctx, runstate.Recover{}); err != nil {
			return nil, err
		}
	}
	s.logger.Info("run resumed", "run", runID, "pipeline", state.Pipeline, "version", state.Version)
	return s.drive(ctx, g, keeper, cfg)
}

// CancelRun flags the run so in-flight node executions finish but nothing
// new is announced. A run that is not currently driven is flagged in the
// store so the next resume observes it.
func (s *Scheduler) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	keeper, running := s.active[runID]
	s.mu.Unlock()

	if !running {
		state, err := s.store.ReadState(ctx, runID)
		if err != nil {
			return err
		}
		keeper = newStateKeeper(s.store, state)
	}
	_, err := keeper.apply(ctx, runstate.Cancel{})
	if err != nil {
		return err
	}
	s.logger.Info("run cancellation requested", "run", runID)
	return nil
}

// GetRunState reports the current state of a run, in-flight or persisted.
func (s *Scheduler) GetRunState(ctx context.Context, runID string) (*dto.RunStatusResponse, error) {
	s.mu.Lock()
	keeper, running := s.active[runID]
	s.mu.Unlock()

	if running {
		return dto.StatusOf(keeper.current()), nil
	}
	state, err := s.store.ReadState(ctx, runID)
	if err != nil {
		return nil, err
	}
	return dto.StatusOf(state), nil
}

// drive runs the control loop for one run and builds the terminal response.
func (s *Scheduler) drive(ctx context.Context, g *graph.Graph, keeper *stateKeeper, cfg dto.RunConfig) (*dto.RunResponse, error) {
	runID := keeper.current().RunID

	s.mu.Lock()
	if _, running := s.active[runID]; running {
		s.mu.Unlock()
		return nil, dto.ErrRunAlreadyActive
	}
	s.active[runID] = keeper
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, runID)
		s.mu.Unlock()
	}()

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	ledger := restoreLedger(keeper.current())
	if err := s.runLoop(ctx, g, keeper, ledger, cfg); err != nil {
		return nil, err
	}
	return outcomeOf(keeper.current()), nil
}

// runLoop is the single control loop: compute eligible set, dispatch up to
// the concurrency bound, consume one result, advance, repeat. It exits only
// on success, halt, or cancellation.
func (s *Scheduler) runLoop(ctx context.Context, g *graph.Graph, keeper *stateKeeper, ledger *budget.Ledger, cfg dto.RunConfig) error {
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	sem := semaphore.NewWeighted(maxConcurrent)
	results := make(chan ExecutionResult)

	inFlight := 0
	dispatched := map[string]bool{}
	var pendingHalt *runstate.HaltReport

	for {
		state := keeper.current()

		if pendingHalt == nil && !state.Cancelled && ctx.Err() == nil {
			for _, node := range runstate.EligibleNodes(g, state) {
				if dispatched[node.Name] {
					continue
				}
				if !runstate.FanInReady(g, state, node.Name) {
					continue
				}
				if !sem.TryAcquire(1) {
					break // worker pool saturated this round
				}
				dispatched[node.Name] = true
				inFlight++
				go func(n *graph.Node) {
					res := s.executor.Execute(ctx, keeper, n, ledger)
					// Release before reporting so the loop sees a free
					// worker slot by the time it consumes the result.
					sem.Release(1)
					results <- res
				}(node)
			}
		}

		if inFlight == 0 {
			return s.finish(ctx, g, keeper, pendingHalt)
		}

		res := <-results
		inFlight--
		delete(dispatched, res.Node)

		if pendingHalt != nil {
			continue // draining in-flight work before the halt lands
		}

		switch res.Outcome {
		case OutcomeRecorded:
			if ledger != nil && ledger.Exceeded() {
				pendingHalt = s.budgetHalt(keeper.current(), ledger, res.Node)
				continue
			}
			report, err := s.advance(ctx, g, keeper, res.Node, res.Outputs)
			if err != nil {
				drainInFlight(results, inFlight)
				return err
			}
			pendingHalt = report

		case OutcomeRetrying:
			// The failure transition re-armed the node; next round retries.

		case OutcomeExhausted:
			node, _ := g.Node(res.Node)
			if node != nil && node.NonBlocking {
				s.logger.Warn("non-blocking node exhausted retries",
					"run", keeper.current().RunID, "node", res.Node, "error", res.Err)
				continue
			}
			pendingHalt = s.escalationHalt(keeper.current(), res)

		case OutcomeHalted:
			pendingHalt = s.errorHalt(keeper.current(), res)
		}
	}
}

// finish applies the terminal transition once no work is in flight.
func (s *Scheduler) finish(ctx context.Context, g *graph.Graph, keeper *stateKeeper, halt *runstate.HaltReport) error {
	state := keeper.current()

	switch {
	case halt != nil:
		if _, err := keeper.apply(ctx, runstate.Finish{Status: runstate.StatusHalted, Halt: halt}); err != nil {
			return err
		}
		s.appendAudit(ctx, audit.Event{
			RunID: state.RunID, Kind: audit.KindRunHalted, Rationale: halt.Reason,
		})
		s.logger.Warn("run halted", "run", state.RunID, "reason", halt.Reason)

	case state.Cancelled:
		if _, err := keeper.apply(ctx, runstate.Finish{Status: runstate.StatusCancelled}); err != nil {
			return err
		}
		s.logger.Info("run cancelled", "run", state.RunID)

	case terminalRecorded(g, state):
		if _, err := keeper.apply(ctx, runstate.Finish{Status: runstate.StatusCompleted}); err != nil {
			return err
		}
		s.appendAudit(ctx, audit.Event{
			RunID: state.RunID, Kind: audit.KindRunCompleted,
		})
		s.logger.Info("run completed",
			"run", state.RunID, "cost", state.Cost.Total.String(), "nodes", len(state.Completed))

	default:
		// Nothing eligible, nothing active, no terminal node recorded:
		// the run is stuck (e.g. a blocking input will never be produced).
		report := haltReport(state, "no eligible nodes remain and no terminal node was recorded")
		if _, err := keeper.apply(ctx, runstate.Finish{Status: runstate.StatusHalted, Halt: report}); err != nil {
			return err
		}
		s.appendAudit(ctx, audit.Event{
			RunID: state.RunID, Kind: audit.KindRunHalted, Rationale: report.Reason,
		})
		s.logger.Error("run stuck", "run", state.RunID)
	}
	imetrics.IncRunsFinished(string(keeper.current().Status))
	return nil
}

// advance evaluates the recorded node's outgoing edges in declared order and
// arms the fired targets per the node's evaluation mode. It returns a halt
// report on cycle exhaustion without a configured overflow edge.
func (s *Scheduler) advance(ctx context.Context, g *graph.Graph, keeper *stateKeeper, node string, outputs map[string]any) (*runstate.HaltReport, error) {
	edges := g.Outgoing(node)
	if len(edges) == 0 {
		return nil, nil // terminal node
	}

	state := keeper.current()
	snapshot := state.Snapshot()

	fired, err := s.matchEdges(ctx, g, state.RunID, node, edges, outputs, snapshot)
	if err != nil {
		var cfgErr *pipeline.ConfigurationError
		if errors.As(err, &cfgErr) || evaluatorHalt(err) {
			return haltReportWith(state, err.Error(), node, ""), nil
		}
		return nil, err
	}

	for _, edge := range fired {
		edge, overflowed, report := s.resolveTraversal(g, state, edge, node)
		if report != nil {
			return report, nil
		}
		if !overflowed {
			if edge.MaxTraversals > 0 {
				if _, err := keeper.apply(ctx, runstate.Traverse{CounterKey: edge.CounterKey()}); err != nil {
					return nil, err
				}
			}
		}

		if _, err := keeper.apply(ctx, runstate.Arm{Nodes: []string{edge.Target}}); err != nil {
			return nil, err
		}
		if edge.Retention == graph.DiscardOutputs {
			if _, err := keeper.apply(ctx, runstate.Discard{Keys: discardKeys(g, edge)}); err != nil {
				return nil, err
			}
		}
		state = keeper.current()
	}
	return nil, nil
}

// matchEdges applies the source node's evaluation mode over its outgoing
// edges. Order is the declared order, never reordered.
func (s *Scheduler) matchEdges(ctx context.Context, g *graph.Graph, runID, node string, edges []*graph.Edge, outputs, snapshot map[string]any) ([]*graph.Edge, error) {
	switch g.Mode(node) {
	case graph.ModeExplicit:
		raw, ok := outputs[graph.ExplicitNextKey]
		if !ok {
			return nil, &pipeline.ConfigurationError{
				Subject: node,
				Message: fmt.Sprintf("explicit mode requires output key %q", graph.ExplicitNextKey),
			}
		}
		next, _ := raw.(string)
		for _, edge := range edges {
			if edge.Name == next || edge.Target == next {
				return []*graph.Edge{edge}, nil
			}
		}
		return nil, &pipeline.ConfigurationError{
			Subject: node, Message: fmt.Sprintf("no outgoing edge matches %q", next),
		}

	case graph.ModeFirstMatching:
		for _, edge := range edges {
			satisfied, err := s.evaluator.Evaluate(ctx, runID, edge.Name, edge.EffectiveCondition(), snapshot)
			if err != nil {
				return nil, err
			}
			if satisfied {
				return []*graph.Edge{edge}, nil
			}
		}
		return nil, nil

	default: // all-matching
		var fired []*graph.Edge
		for _, edge := range edges {
			satisfied, err := s.evaluator.Evaluate(ctx, runID, edge.Name, edge.EffectiveCondition(), snapshot)
			if err != nil {
				return nil, err
			}
			if satisfied {
				fired = append(fired, edge)
			}
		}
		return fired, nil
	}
}

// resolveTraversal enforces a cycle edge's traversal cap. When the cap would
// be exceeded it substitutes the configured overflow edge, or produces a
// cycle-exhaustion halt report when none is declared.
func (s *Scheduler) resolveTraversal(g *graph.Graph, state *runstate.RunState, edge *graph.Edge, node string) (*graph.Edge, bool, *runstate.HaltReport) {
	if edge.MaxTraversals <= 0 {
		return edge, false, nil
	}
	used := state.Traversals[edge.CounterKey()]
	if used < edge.MaxTraversals {
		return edge, false, nil
	}

	if edge.Overflow != "" {
		overflow, ok := g.Edge(edge.Overflow)
		if ok {
			s.logger.Info("cycle cap reached, taking overflow edge",
				"run", state.RunID, "edge", edge.Name, "overflow", overflow.Name)
			return overflow, true, nil
		}
	}

	cause := &pipeline.CycleExhaustedError{Edge: edge.Name, Traversals: used, Max: edge.MaxTraversals}
	report := haltReportWith(state, cause.Error(), node, edge.Name)
	return nil, false, report
}

func (s *Scheduler) budgetHalt(state *runstate.RunState, ledger *budget.Ledger, node string) *runstate.HaltReport {
	report := ledger.Report()
	halt := haltReportWith(state,
		(&pipeline.BudgetExceededError{Accumulated: report.Accumulated, Limit: report.Limit}).Error(),
		node, "")
	halt.Accumulated = report.Accumulated
	halt.Limit = report.Limit
	halt.CostByNode = report.ByNode
	return halt
}

func (s *Scheduler) escalationHalt(state *runstate.RunState, res ExecutionResult) *runstate.HaltReport {
	reason := fmt.Sprintf("node %s exhausted retries", res.Node)
	if res.Err != nil {
		reason = fmt.Sprintf("%s: %s", reason, res.Err)
	}
	return haltReportWith(state, reason, res.Node, "")
}

func (s *Scheduler) errorHalt(state *runstate.RunState, res ExecutionResult) *runstate.HaltReport {
	reason := "non-retryable failure"
	if res.Err != nil {
		reason = res.Err.Error()
	}
	halt := haltReportWith(state, reason, res.Node, "")

	var denied *budget.DeniedError
	if errors.As(res.Err, &denied) {
		halt.Accumulated = denied.Report.Accumulated
		halt.Limit = denied.Report.Limit
		halt.CostByNode = denied.Report.ByNode
	}
	return halt
}

func (s *Scheduler) appendAudit(ctx context.Context, event audit.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.Error("audit append failed", "run", event.RunID, "kind", event.Kind, "error", err)
	}
}

// drainInFlight consumes outstanding worker results so an error exit leaves
// no goroutine blocked on the results channel.
func drainInFlight(results <-chan ExecutionResult, inFlight int) {
	for ; inFlight > 0; inFlight-- {
		<-results
	}
}

// evaluatorHalt matches condition errors no retry can resolve: an expression
// that does not parse or cannot be evaluated against the current snapshot
// fails identically on every attempt, so the run halts with a report instead
// of being abandoned mid-flight.
func evaluatorHalt(err error) bool {
	return errors.Is(err, condition.ErrUnparsableExpression) ||
		errors.Is(err, condition.ErrEvaluationFailed) ||
		errors.Is(err, condition.ErrInvalidKind) ||
		errors.Is(err, condition.ErrInvalidOperator)
}

// terminalRecorded reports whether a terminal node has recorded, which is
// the success exit of the loop.
func terminalRecorded(g *graph.Graph, state *runstate.RunState) bool {
	for name := range state.Completed {
		if g.IsTerminal(name) {
			return true
		}
	}
	return false
}

// discardKeys collects the output keys a discard-outputs re-entry removes:
// the target's declared outputs plus those of any nodes the edge lists.
func discardKeys(g *graph.Graph, edge *graph.Edge) []string {
	var keys []string
	if target, ok := g.Node(edge.Target); ok {
		keys = append(keys, target.Outputs...)
	}
	for _, name := range edge.Discard {
		if n, ok := g.Node(name); ok {
			keys = append(keys, n.Outputs...)
		}
	}
	return keys
}

// restoreLedger rebuilds the budget ledger from persisted cost data. A run
// without a budget runs unmetered.
func restoreLedger(state *runstate.RunState) *budget.Ledger {
	if state.Budget <= 0 {
		return nil
	}
	ledger := budget.NewLedger(state.Budget)
	ledger.Restore(state.Cost.Total, state.Cost.ByNode)
	return ledger
}

// haltReport builds the structured report every halt produces.
func haltReport(state *runstate.RunState, reason string) *runstate.HaltReport {
	return &runstate.HaltReport{
		Reason:       reason,
		Accumulated:  state.Cost.Total,
		Limit:        state.Budget,
		CostByNode:   state.Cost.ByNode,
		LastRecorded: state.LastRecorded(),
		RetryHistory: state.RetryHistory(),
		HaltedAt:     time.Now().UTC(),
	}
}

func haltReportWith(state *runstate.RunState, reason, node, edge string) *runstate.HaltReport {
	report := haltReport(state, reason)
	report.OffendingNode = node
	report.OffendingEdge = edge
	return report
}

// outcomeOf maps a terminal state to the caller-facing response. Completed
// runs carry the merged outputs of every recorded node.
func outcomeOf(state *runstate.RunState) *dto.RunResponse {
	resp := &dto.RunResponse{
		RunID:     state.RunID,
		Pipeline:  state.Pipeline,
		WorkItem:  state.WorkItem,
		Status:    state.Status,
		Halt:      state.Halt,
		StartTime: state.CreatedAt,
		EndTime:   state.UpdatedAt,
		Duration:  state.UpdatedAt.Sub(state.CreatedAt),
		Cost: dto.CostSummary{
			Total: float64(state.Cost.Total),
			Limit: float64(state.Budget),
		},
	}
	if len(state.Cost.ByNode) > 0 {
		resp.Cost.ByNode = make(map[string]float64, len(state.Cost.ByNode))
		for node, cost := range state.Cost.ByNode {
			resp.Cost.ByNode[node] = float64(cost)
		}
	}
	if state.Status == runstate.StatusHalted && state.Halt != nil {
		resp.Error = state.Halt.Reason
	}
	if state.Status == runstate.StatusCompleted {
		resp.Output = map[string]any{}
		for _, result := range state.Completed {
			for k, v := range result.Outputs {
				resp.Output[k] = v
			}
		}
	}
	return resp
}
