package usecases

import "errors"

// Orchestration errors
var (
	ErrUnknownPipeline = errors.New("pipeline is not registered")
)
