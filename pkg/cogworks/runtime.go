package cogworks

import (
	"context"
	"log/slog"
	"time"

	memory "github.com/pvandervelde/cog-works-sub002/internal/adapters/repository/memory"
	"github.com/pvandervelde/cog-works-sub002/internal/app/dto"
	"github.com/pvandervelde/cog-works-sub002/internal/app/usecases"
	"github.com/pvandervelde/cog-works-sub002/internal/core/audit"
	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
	coregraph "github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// Re-export core graph types for convenience
type Graph = coregraph.Graph
type Node = coregraph.Node
type Edge = coregraph.Edge
type NodeKind = coregraph.NodeKind
type Definition = coregraph.Definition
type EvaluationMode = coregraph.EvaluationMode
type RetentionPolicy = coregraph.RetentionPolicy

const (
	KindLLM           = coregraph.KindLLM
	KindDeterministic = coregraph.KindDeterministic
	KindSpawning      = coregraph.KindSpawning

	AllMatching   = coregraph.ModeAllMatching
	FirstMatching = coregraph.ModeFirstMatching
	Explicit      = coregraph.ModeExplicit

	RetainAll      = coregraph.RetainAll
	DiscardOutputs = coregraph.DiscardOutputs
)

// Options configures a Runtime. Zero values select in-memory components
// suitable for local usage and tests.
type Options struct {
	Oracle        usecases.Oracle
	Store         usecases.StateStore
	Validator     usecases.DomainValidator
	Audit         audit.Sink
	Logger        *slog.Logger
	OracleTimeout time.Duration
}

// Runtime is a facade to construct and run pipelines without importing
// internal packages directly.
type Runtime struct {
	scheduler *Scheduler
	handlers  *usecases.HandlerRegistry
	audit     audit.Sink
}

// Scheduler is the orchestration entry point re-exported for callers that
// need the raw operations.
type Scheduler = usecases.Scheduler

// NewRuntime constructs a runtime. With zero options it runs fully in
// memory with no oracle; llm nodes then require one to be set via Options.
func NewRuntime(opts Options) *Runtime {
	if opts.Store == nil {
		opts.Store = memory.NewStore(nil)
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemorySink()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	handlers := usecases.NewHandlerRegistry()
	evaluator := condition.NewEvaluator(opts.Oracle, opts.Audit, opts.OracleTimeout, opts.Logger)
	executor := usecases.NewNodeExecutor(opts.Oracle, handlers, opts.Validator, opts.Audit, opts.Logger)
	scheduler := usecases.NewScheduler(opts.Store, executor, evaluator, opts.Audit, opts.Logger)

	return &Runtime{scheduler: scheduler, handlers: handlers, audit: opts.Audit}
}

// RegisterPipeline validates a definition and makes it runnable by name.
func (rt *Runtime) RegisterPipeline(def Definition) (*Graph, error) {
	g, err := coregraph.Load(def)
	if err != nil {
		return nil, err
	}
	rt.scheduler.RegisterGraph(g)
	return g, nil
}

// RegisterGraph makes an already-loaded graph runnable by name.
func (rt *Runtime) RegisterGraph(g *Graph) {
	rt.scheduler.RegisterGraph(g)
}

// RegisterDefault loads the built-in 7-stage pipeline and makes it runnable.
func (rt *Runtime) RegisterDefault() *Graph {
	g := coregraph.MustDefault()
	rt.scheduler.RegisterGraph(g)
	return g
}

// RegisterHandler binds a handler for deterministic and spawning nodes.
func (rt *Runtime) RegisterHandler(name string, fn usecases.HandlerFunc) {
	rt.handlers.Register(name, fn)
}

// StartRun creates a fresh run and drives it to a terminal outcome.
func (rt *Runtime) StartRun(ctx context.Context, req *dto.RunRequest) (*dto.RunResponse, error) {
	return rt.scheduler.StartRun(ctx, req)
}

// Run executes the named pipeline against one work item with default config.
func (rt *Runtime) Run(ctx context.Context, pipelineName string, workItem pipeline.WorkItemID, initial map[string]any) (*dto.RunResponse, error) {
	return rt.scheduler.StartRun(ctx, &dto.RunRequest{
		Pipeline: pipelineName,
		WorkItem: workItem,
		Initial:  initial,
	})
}

// ResumeRun continues a persisted run; terminal runs return their outcome
// without executing anything.
func (rt *Runtime) ResumeRun(ctx context.Context, runID string) (*dto.RunResponse, error) {
	return rt.scheduler.ResumeRun(ctx, runID, dto.RunConfig{})
}

// CancelRun flags a run for graceful stop.
func (rt *Runtime) CancelRun(ctx context.Context, runID string) error {
	return rt.scheduler.CancelRun(ctx, runID)
}

// GetRunState reports a run's current status.
func (rt *Runtime) GetRunState(ctx context.Context, runID string) (*dto.RunStatusResponse, error) {
	return rt.scheduler.GetRunState(ctx, runID)
}

// Audit exposes the runtime's audit sink.
func (rt *Runtime) Audit() audit.Sink {
	return rt.audit
}
