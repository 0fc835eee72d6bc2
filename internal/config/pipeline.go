package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pvandervelde/cog-works-sub002/internal/core/condition"
	"github.com/pvandervelde/cog-works-sub002/internal/core/graph"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

// pipelineFile is the TOML shape of a definition file, which may carry
// several named pipelines.
type pipelineFile struct {
	Pipelines []pipelineDoc `toml:"pipelines"`
}

// pipelineDoc is the TOML shape of one pipeline definition. It is kept
// separate from graph.Definition so the file format can use snake_case keys
// and string durations without leaking TOML concerns into the core.
type pipelineDoc struct {
	Name        string            `toml:"name"`
	Start       string            `toml:"start"`
	InitialKeys []string          `toml:"initial_keys,omitempty"`
	Modes       map[string]string `toml:"modes,omitempty"`
	Nodes       []nodeDoc         `toml:"nodes"`
	Edges       []edgeDoc         `toml:"edges"`
}

type nodeDoc struct {
	Name        string   `toml:"name"`
	Kind        string   `toml:"kind"`
	Inputs      []string `toml:"inputs,omitempty"`
	Outputs     []string `toml:"outputs,omitempty"`
	Validate    string   `toml:"validate,omitempty"`
	Handler     string   `toml:"handler,omitempty"`
	Timeout     string   `toml:"timeout,omitempty"`
	Retries     int      `toml:"retries,omitempty"`
	Budget      float64  `toml:"budget,omitempty"`
	NonBlocking bool     `toml:"non_blocking,omitempty"`
}

type edgeDoc struct {
	Name          string         `toml:"name,omitempty"`
	Source        string         `toml:"source"`
	Target        string         `toml:"target"`
	Condition     condition.Spec `toml:"condition,omitempty"`
	MaxTraversals int            `toml:"max_traversals,omitempty"`
	Retention     string         `toml:"retention,omitempty"`
	Discard       []string       `toml:"discard,omitempty"`
	SharedCounter string         `toml:"shared_counter,omitempty"`
	Overflow      string         `toml:"overflow,omitempty"`
}

// LoadPipelines reads and validates every pipeline graph in the TOML file at
// path. A missing file falls back to the built-in default graph, so every
// deployment has a valid, terminating pipeline with zero configuration.
func LoadPipelines(path string) ([]*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			g, err := graph.Load(graph.DefaultDefinition())
			if err != nil {
				return nil, err
			}
			return []*graph.Graph{g}, nil
		}
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	var file pipelineFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, &pipeline.ConfigurationError{
			Subject: path,
			Message: fmt.Sprintf("malformed pipeline file: %v", err),
			Err:     err,
		}
	}
	if len(file.Pipelines) == 0 {
		return nil, &pipeline.ConfigurationError{
			Subject: path,
			Message: "pipeline file declares no pipelines",
		}
	}

	graphs := make([]*graph.Graph, 0, len(file.Pipelines))
	for _, doc := range file.Pipelines {
		def, err := doc.toDefinition()
		if err != nil {
			return nil, err
		}
		g, err := graph.Load(def)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func (d *pipelineDoc) toDefinition() (graph.Definition, error) {
	def := graph.Definition{
		Name:        d.Name,
		Start:       d.Start,
		InitialKeys: d.InitialKeys,
	}

	if len(d.Modes) > 0 {
		def.Modes = make(map[string]graph.EvaluationMode, len(d.Modes))
		for node, mode := range d.Modes {
			def.Modes[node] = graph.EvaluationMode(mode)
		}
	}

	for _, n := range d.Nodes {
		node := graph.Node{
			Name:        n.Name,
			Kind:        graph.NodeKind(n.Kind),
			Inputs:      n.Inputs,
			Outputs:     n.Outputs,
			Validate:    n.Validate,
			Handler:     n.Handler,
			Retries:     n.Retries,
			NonBlocking: n.NonBlocking,
		}
		if n.Timeout != "" {
			timeout, err := time.ParseDuration(n.Timeout)
			if err != nil {
				return def, &pipeline.ConfigurationError{
					Subject: n.Name,
					Message: fmt.Sprintf("invalid timeout %q: %v", n.Timeout, err),
					Err:     err,
				}
			}
			node.Timeout = timeout
		}
		if n.Budget > 0 {
			budget, err := pipeline.NewCostBudget(n.Budget)
			if err != nil {
				return def, &pipeline.ConfigurationError{
					Subject: n.Name,
					Message: fmt.Sprintf("invalid budget %v", n.Budget),
					Err:     err,
				}
			}
			node.Budget = budget
		}
		def.Nodes = append(def.Nodes, node)
	}

	for _, e := range d.Edges {
		def.Edges = append(def.Edges, graph.Edge{
			Name:          e.Name,
			Source:        e.Source,
			Target:        e.Target,
			Condition:     e.Condition,
			MaxTraversals: e.MaxTraversals,
			Retention:     graph.RetentionPolicy(e.Retention),
			Discard:       e.Discard,
			SharedCounter: e.SharedCounter,
			Overflow:      e.Overflow,
		})
	}
	return def, nil
}
