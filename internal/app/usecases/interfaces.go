package usecases

import (
	"context"

	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
)

// Oracle is the external natural-language collaborator. It answers edge
// predicates and executes llm-kind nodes. Errors should wrap a transient
// cause where one exists so PolicyFor can classify retryability.
// PRINCIPLES:
// - SRP: Only responsible for oracle communication
// - DIP: Used for dependency injection
type Oracle interface {
	condition.Oracle

	// InvokeNode runs one llm-kind node execution and reports its spend.
	InvokeNode(ctx context.Context, req NodeInvocation) (*NodeOutput, error)
}

// NodeInvocation carries everything the oracle needs to execute one node.
type NodeInvocation struct {
	RunID    string         `json:"run_id"`
	Node     string         `json:"node"`
	Prompt   string         `json:"prompt"` // handler/prompt-template name
	Inputs   map[string]any `json:"inputs"`
	Feedback string         `json:"feedback,omitempty"` // validation detail from the prior failed attempt
	Schema   []string       `json:"schema,omitempty"`   // declared output keys
}

// NodeOutput is the oracle's result for one node execution.
type NodeOutput struct {
	Output    map[string]any      `json:"output"`
	TokensIn  pipeline.TokenCount `json:"tokens_in"`
	TokensOut pipeline.TokenCount `json:"tokens_out"`
	Cost      pipeline.TokenCost  `json:"cost"`
}

// StateStore persists run state between node-boundary transitions. The core
// treats it as a blocking key-value read/write with no partial-write
// visibility.
type StateStore interface {
	WriteState(ctx context.Context, runID string, state *runstate.RunState) error
	ReadState(ctx context.Context, runID string) (*runstate.RunState, error)
}

// DomainValidator checks a deterministic node's artifact and reports
// structured diagnostics. A blocking diagnostic fails validation.
type DomainValidator interface {
	Validate(ctx context.Context, node string, artifact map[string]any) ([]pipeline.Diagnostic, error)
}
