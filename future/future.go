// Package future bridges asynchronously delivered results to callers that
// want to block until the result is available.
//
// A Future is handed to an engine as its success and error callbacks (see
// Listener). The first delivered outcome wins; later ones are ignored.
package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by GetTimeout when no result arrived in time.
	ErrTimeout = errors.New("timed out waiting for result")
	// ErrCancelled is returned to waiters of a cancelled future.
	ErrCancelled = errors.New("request cancelled")
)

// RemoteError wraps the error an engine delivered for a request.
type RemoteError struct {
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Canceller is implemented by in-flight requests that can be cancelled.
type Canceller interface {
	Cancel()
}

type state int

const (
	statePending state = iota
	stateResolved
	stateRejected
	stateCancelled
)

// Future holds the eventual result of a single request.
// The zero value is not usable, create one with New.
type Future[T any] struct {
	mu      sync.Mutex
	state   state
	value   T
	err     error
	request Canceller
	// closed once the future leaves the pending state
	done chan struct{}
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// SetRequest attaches the request whose result this future waits for,
// enabling Cancel.
func (f *Future[T]) SetRequest(req Canceller) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.request = req
}

// Resolve completes the future with a value.
// It returns false if the future was already complete.
func (f *Future[T]) Resolve(value T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != statePending {
		return false
	}
	f.state = stateResolved
	f.value = value
	close(f.done)
	return true
}

// Reject completes the future with an error.
// It returns false if the future was already complete.
func (f *Future[T]) Reject(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != statePending {
		return false
	}
	f.state = stateRejected
	f.err = &RemoteError{Err: err}
	close(f.done)
	return true
}

// Cancel cancels the attached request and completes the future with
// ErrCancelled. It returns false if there is no request attached or the
// future is already complete.
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.request == nil || f.state != statePending {
		return false
	}
	f.request.Cancel()
	f.state = stateCancelled
	f.err = ErrCancelled
	close(f.done)
	return true
}

// IsDone reports whether the future is complete, cancellation included.
func (f *Future[T]) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != statePending
}

func (f *Future[T]) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateCancelled
}

// Get blocks until the future is complete.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.result()
}

// GetTimeout is like Get but gives up with ErrTimeout after d.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.result()
	case <-timer.C:
		// result may have arrived at the same time
		select {
		case <-f.done:
			return f.result()
		default:
		}
		var zero T
		return zero, ErrTimeout
	}
}

// GetContext is like Get but returns ctx.Err() if the context ends first.
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Listener returns callbacks completing the future, for handing to an engine.
func (f *Future[T]) Listener() (onSuccess func(T), onError func(error)) {
	return func(value T) { f.Resolve(value) },
		func(err error) { f.Reject(err) }
}

func (f *Future[T]) result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == stateResolved {
		return f.value, nil
	}
	var zero T
	return zero, f.err
}
