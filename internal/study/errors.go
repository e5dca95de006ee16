package study

import "errors"

var (
	// ErrValidation marks input rejected before any state change.
	ErrValidation = errors.New("validation error")
	// ErrSequence marks an action attempted outside its valid phase or index range.
	ErrSequence = errors.New("sequence violation")
	// ErrInFlight is returned while a generation request is outstanding.
	ErrInFlight = errors.New("response in flight")
)
