package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Class tells the engine whether a failed call is worth retrying.
type Class string

const (
	Transient Class = "transient"
	Permanent Class = "permanent"
	Unknown   Class = "unknown"
)

// Error is returned by every adapter call that fails.
type Error struct {
	System     string
	Op         string
	Class      Class
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (HTTP %d): %v", e.System, e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.System, e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the class of err, or Unknown when err is not an *Error.
func ClassOf(err error) Class {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Unknown
}

// ClassifyStatus maps an HTTP status to a failure class.
func ClassifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return Transient
	case code >= 400:
		return Permanent
	default:
		return Unknown
	}
}

// classifyTransport maps a transport-level failure. Anything but a caller
// cancellation is a network problem.
func classifyTransport(err error) Class {
	if errors.Is(err, context.Canceled) {
		return Unknown
	}
	return Transient
}
