package domain

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates caller-supplied input was rejected.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict indicates the target is already being deployed.
	ErrConflict = errors.New("deployment already in progress")
)
