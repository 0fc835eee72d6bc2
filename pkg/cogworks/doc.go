// Package cogworks provides a minimal public façade for constructing and
// executing pipeline runs without importing internal packages. It re-exports
// the core graph types for convenience and exposes a Runtime with simple
// methods to register and run pipelines.
package cogworks
