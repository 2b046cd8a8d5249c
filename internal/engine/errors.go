package engine

import "errors"

var (
	// ErrInvalidState is returned when an operation does not apply to the current status.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrReleaseRunning refuses deletion of a live release.
	ErrReleaseRunning = errors.New("release is running; cancel it first")
	ErrInputAlreadySubmitted = errors.New("input already submitted")
	// ErrInputNotPending is returned when the input's block is no longer waiting.
	ErrInputNotPending = errors.New("input is not pending")
	// ErrInvalidInput rejects a submitted value or a restart override.
	ErrInvalidInput = errors.New("invalid input")

	errEngineClosed = errors.New("engine closed")
)
