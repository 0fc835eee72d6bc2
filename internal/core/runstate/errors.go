package runstate

import "errors"

var (
	// ErrNodeNotArmed is returned when an Announce targets a node no
	// incoming edge has armed.
	ErrNodeNotArmed = errors.New("node is not armed for execution")

	// ErrNodeAlreadyActive is returned when an Announce targets a node
	// that already has an in-flight execution.
	ErrNodeAlreadyActive = errors.New("node is already active")

	// ErrNodeNotActive is returned when a Record or Fail targets a node
	// that was never announced.
	ErrNodeNotActive = errors.New("node is not active")

	// ErrNotTerminalStatus is returned when a Finish carries a status
	// that does not end the run.
	ErrNotTerminalStatus = errors.New("finish requires a terminal status")

	// ErrMissingHaltReport is returned when a run is finished as halted
	// without an accompanying halt report.
	ErrMissingHaltReport = errors.New("halted run requires a halt report")
)
