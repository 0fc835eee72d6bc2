package dto

import "errors"

// Run request errors
var (
	ErrMissingPipeline    = errors.New("pipeline name is required")
	ErrMissingWorkItem    = errors.New("work item is required")
	ErrInvalidBudgetLimit = errors.New("budget limit must not be negative")
	ErrRunAlreadyActive   = errors.New("run is already executing")
)
