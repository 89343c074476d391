package executor

import "errors"

var (
	ErrJobNotFound    = errors.New("job not found in pipeline")
	ErrMethodNotFound = errors.New("method not found in service")

	// ErrActionBlocked is returned when the run policy denies an action,
	// either through ModeDeny or a block-list match.
	ErrActionBlocked = errors.New("action blocked by policy")
	// ErrActionRejected is returned when an interactive policy prompt
	// declined the action.
	ErrActionRejected = errors.New("action rejected")
)
