package graph

import (
	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
)

// DefaultPipelineName names the built-in graph used when no external
// definition is supplied, so every deployment has a valid, terminating
// pipeline even with zero configuration.
const DefaultPipelineName = "default"

// DefaultReworkLimit caps the Review -> CodeGen rework loop in the built-in
// graph.
const DefaultReworkLimit = 3

// DefaultDefinition returns the built-in linear seven-node pipeline:
// Intake -> Architecture -> Interface -> Planning -> CodeGen -> Review ->
// Integration, with one capped rework edge from Review back to CodeGen.
func DefaultDefinition() Definition {
	return Definition{
		Name:        DefaultPipelineName,
		Start:       "intake",
		InitialKeys: []string{"work_item"},
		Nodes: []Node{
			{Name: "intake", Kind: KindLLM, Inputs: []string{"work_item"}, Outputs: []string{"intake"}, Handler: "intake"},
			{Name: "architecture", Kind: KindLLM, Inputs: []string{"intake"}, Outputs: []string{"architecture"}, Handler: "architecture"},
			{Name: "interface", Kind: KindLLM, Inputs: []string{"architecture"}, Outputs: []string{"interfaces"}, Handler: "interface"},
			{Name: "planning", Kind: KindLLM, Inputs: []string{"interfaces"}, Outputs: []string{"plan"}, Handler: "planning"},
			{Name: "codegen", Kind: KindLLM, Inputs: []string{"plan"}, Outputs: []string{"code"}, Handler: "codegen"},
			{Name: "review", Kind: KindLLM, Inputs: []string{"code"}, Outputs: []string{"review_approved", "review_feedback"}, Handler: "review"},
			{Name: "integration", Kind: KindLLM, Inputs: []string{"code", "review_approved"}, Outputs: []string{"pull_request"}, Handler: "integration"},
		},
		Edges: []Edge{
			{Source: "intake", Target: "architecture"},
			{Source: "architecture", Target: "interface"},
			{Source: "interface", Target: "planning"},
			{Source: "planning", Target: "codegen"},
			{Source: "codegen", Target: "review"},
			{
				Name:      "review-approve",
				Source:    "review",
				Target:    "integration",
				Condition: condition.Deterministic("review_approved == true"),
			},
			{
				Name:          "review-rework",
				Source:        "review",
				Target:        "codegen",
				Condition:     condition.Deterministic("review_approved == false"),
				MaxTraversals: DefaultReworkLimit,
				// Prior review feedback stays visible to the rework pass.
				Retention: RetainAll,
			},
		},
		Modes: map[string]EvaluationMode{
			"review": ModeFirstMatching,
		},
	}
}

// MustDefault loads the built-in graph. The definition is covered by tests;
// a failure here is a programming error.
func MustDefault() *Graph {
	g, err := Load(DefaultDefinition())
	if err != nil {
		panic(err)
	}
	return g
}
