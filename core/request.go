package core

import (
	"net/http"
	"sync/atomic"

	"github.com/always-cache/netcache/pkg/headers"
	"github.com/always-cache/netcache/rfc9211"
	"github.com/google/uuid"
)

// Request is a request queued on an Engine.
//
// Once dispatched, the engine calls exactly one of the callbacks with the
// final outcome, unless the request is cancelled first. A stale cached
// response may be delivered to OnSuccess ahead of the final one, marked as
// Intermediate.
type Request struct {
	ID     string
	Method string
	URL    string
	Header http.Header
	// ShouldCache enables reading and writing the cache. Defaults to true for GET.
	ShouldCache bool
	// Revalidate skips fresh cached responses and always asks the origin,
	// conditionally if a response is stored.
	Revalidate bool

	OnSuccess func(*Response)
	OnError   func(error)

	cancelled atomic.Bool
	// a response has already been delivered
	delivered atomic.Bool
}

// NewRequest creates a request with the given callbacks. Either may be nil.
func NewRequest(method, url string, onSuccess func(*Response), onError func(error)) *Request {
	return &Request{
		ID:          uuid.NewString(),
		Method:      method,
		URL:         url,
		Header:      make(http.Header),
		ShouldCache: method == http.MethodGet,
		OnSuccess:   onSuccess,
		OnError:     onError,
	}
}

// Cancel marks the request as cancelled. No callback is called after Cancel
// returns. It does not block.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
}

func (r *Request) IsCancelled() bool {
	return r.cancelled.Load()
}

// Response is a response delivered to a Request.
// Headers and Body may be shared with the cache and must not be modified.
type Response struct {
	StatusCode int
	Headers    headers.Headers
	Body       []byte
	// The origin answered 304 (Not Modified) and Body is the stored payload.
	NotModified bool
	// The response is a stale cached one, a final response will follow.
	Intermediate bool
	CacheStatus  rfc9211.CacheStatus
}
