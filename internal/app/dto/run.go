package dto

import (
	"time"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
)

// RunRequest represents a request to execute a pipeline run
type RunRequest struct {
	Pipeline string                 `json:"pipeline"`
	RunID    string                 `json:"run_id,omitempty"` // Generated when empty
	WorkItem pipeline.WorkItemID    `json:"work_item"`
	Initial  map[string]interface{} `json:"initial,omitempty"`
	Config   RunConfig              `json:"config"`
}

// RunConfig contains configuration for run execution
type RunConfig struct {
	BudgetLimit   float64       `json:"budget_limit"`   // Cost ceiling in USD, 0 disables
	MaxConcurrent int           `json:"max_concurrent"` // Concurrent node dispatch limit
	RunTimeout    time.Duration `json:"run_timeout"`    // Whole-run deadline, 0 disables
	OracleTimeout time.Duration `json:"oracle_timeout"` // Per external evaluation
}

// RunResponse represents the terminal outcome of a run
type RunResponse struct {
	RunID     string                 `json:"run_id"`
	Pipeline  string                 `json:"pipeline"`
	WorkItem  pipeline.WorkItemID    `json:"work_item"`
	Status    runstate.Status        `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Halt      *runstate.HaltReport   `json:"halt,omitempty"`
	Cost      CostSummary            `json:"cost"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Duration  time.Duration          `json:"duration"`
	Error     string                 `json:"error,omitempty"`
}

// CostSummary aggregates per-run spend for reporting
type CostSummary struct {
	Total  float64            `json:"total"`
	Limit  float64            `json:"limit"`
	ByNode map[string]float64 `json:"by_node,omitempty"`
}

// RunStatusResponse describes an in-flight or persisted run without
// waiting for it to finish
type RunStatusResponse struct {
	RunID     string          `json:"run_id"`
	Pipeline  string          `json:"pipeline"`
	Status    runstate.Status `json:"status"`
	Armed     []string        `json:"armed,omitempty"`
	Active    []string        `json:"active,omitempty"`
	Completed []string        `json:"completed,omitempty"`
	Failed    []string        `json:"failed,omitempty"`
	Cost      CostSummary     `json:"cost"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate validates the run request and fills in defaults
func (req *RunRequest) Validate() error {
	if req.Pipeline == "" {
		return ErrMissingPipeline
	}
	if req.WorkItem == 0 {
		return ErrMissingWorkItem
	}
	if req.Config.BudgetLimit < 0 {
		return ErrInvalidBudgetLimit
	}
	if req.Config.MaxConcurrent <= 0 {
		req.Config.MaxConcurrent = 3
	}
	if req.Config.OracleTimeout <= 0 {
		req.Config.OracleTimeout = 30 * time.Second
	}
	return nil
}

// StatusOf builds a status response from a persisted state value.
func StatusOf(s *runstate.RunState) *RunStatusResponse {
	resp := &RunStatusResponse{
		RunID:     s.RunID,
		Pipeline:  s.Pipeline,
		Status:    s.Status,
		Cost:      CostSummary{Total: float64(s.Cost.Total)},
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
	}
	for name := range s.Armed {
		resp.Armed = append(resp.Armed, name)
	}
	for name := range s.Active {
		resp.Active = append(resp.Active, name)
	}
	for name := range s.Completed {
		resp.Completed = append(resp.Completed, name)
	}
	for name := range s.Failed {
		resp.Failed = append(resp.Failed, name)
	}
	if len(s.Cost.ByNode) > 0 {
		resp.Cost.ByNode = make(map[string]float64, len(s.Cost.ByNode))
		for node, cost := range s.Cost.ByNode {
			resp.Cost.ByNode[node] = float64(cost)
		}
	}
	return resp
}
