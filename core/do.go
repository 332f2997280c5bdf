package core

import (
	"context"

	"github.com/always-cache/netcache/future"
)

// Future queues the request and returns a future for its response.
// The first delivered response resolves it, so a stale cached response
// (marked Intermediate) wins over the revalidated one.
func (e *Engine) Future(req *Request) *future.Future[*Response] {
	f := future.New[*Response]()
	req.OnSuccess, req.OnError = f.Listener()
	f.SetRequest(req)
	e.Add(req)
	return f
}

// Do queues the request and waits for its response.
// If the context ends first, the request is cancelled.
// Errors reported by the engine are wrapped in a *future.RemoteError.
func (e *Engine) Do(ctx context.Context, req *Request) (*Response, error) {
	f := e.Future(req)
	res, err := f.GetContext(ctx)
	if err != nil && ctx.Err() != nil {
		f.Cancel()
	}
	return res, err
}
