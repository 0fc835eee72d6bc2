// Package metrics exposes expvar-published counters used by the pipeline
// engine (runs, node executions, oracle calls, and spend). It intentionally
// avoids external dependencies and is consumed via /debug/vars.
package metrics
