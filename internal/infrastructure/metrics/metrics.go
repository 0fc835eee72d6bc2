package metrics

import (
	"expvar"
)

// Run metrics keyed by terminal status.
var (
	runsStarted  = new(expvar.Int)
	runsFinished = expvar.NewMap("cogworks_runs_finished_total")
)

// Node metrics keyed by node kind.
var (
	nodeExecutions = expvar.NewMap("cogworks_node_executions_total")
	nodeFailures   = expvar.NewMap("cogworks_node_failures_total")
	nodeRetries    = expvar.NewMap("cogworks_node_retries_total")
)

// Oracle / cost metrics.
var (
	oracleCalls     = new(expvar.Int)
	oracleFallbacks = new(expvar.Int)
	costMicros      = new(expvar.Int) // accumulated spend in micro-dollars
)

func init() {
	expvar.Publish("cogworks_runs_started_total", runsStarted)
	expvar.Publish("cogworks_oracle_calls_total", oracleCalls)
	expvar.Publish("cogworks_oracle_fallbacks_total", oracleFallbacks)
	expvar.Publish("cogworks_cost_micro_usd_total", costMicros)
}

// Run helpers
func IncRunsStarted()               { runsStarted.Add(1) }
func IncRunsFinished(status string) { runsFinished.Add(status, 1) }

// Node helpers
func IncNodeExecutions(kind string) { nodeExecutions.Add(kind, 1) }
func IncNodeFailures(kind string)   { nodeFailures.Add(kind, 1) }
func IncNodeRetries(kind string)    { nodeRetries.Add(kind, 1) }

// Oracle/cost helpers
func IncOracleCalls()        { oracleCalls.Add(1) }
func IncOracleFallbacks()    { oracleFallbacks.Add(1) }
func AddCostUSD(usd float64) { costMicros.Add(int64(usd * 1e6)) }
