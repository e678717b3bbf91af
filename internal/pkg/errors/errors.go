package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnrecognizedDocument marks lab text no vendor parser claimed.
	// Ingestion degrades to the generic parser; this surfaces only when
	// even that yields zero tests.
	ErrUnrecognizedDocument = errors.New("unrecognized lab document")
	// ErrPipelineBusy means a compute run for the same user is in flight.
	ErrPipelineBusy = errors.New("compute pipeline busy for user")
)
