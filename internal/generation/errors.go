package generation

import (
	"context"
	"errors"
	"fmt"
)

// Error is the single failure type returned by generators.
type Error struct {
	// Message is safe to show to the participant.
	Message string
	// StatusCode is the upstream HTTP status, or 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "generation failed"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed: status=%d: %s", e.StatusCode, e.Message)
	}
	return "generation failed: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap converts any error into *Error, keeping an existing one as is.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "the request timed out"
	case errors.Is(err, context.Canceled):
		msg = "the request was cancelled"
	}
	return &Error{Message: msg, Err: err}
}
