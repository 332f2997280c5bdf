package core

import (
	"errors"
	"fmt"
)

var (
	// ErrURLBlocked is reported when the UrlRewriter rejects the URL of a request.
	ErrURLBlocked = errors.New("url blocked by rewriter")
	// ErrStatus is wrapped by every StatusError.
	ErrStatus = errors.New("unexpected status")
	// ErrQueueFull is reported when a request cannot be queued.
	ErrQueueFull = errors.New("request queue is full")
	// ErrStopped is reported for requests added to an engine that is not running.
	ErrStopped = errors.New("engine stopped")
)

// StatusError is reported when the origin answers with a status code the
// engine cannot deliver as a success.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d", ErrStatus, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}
