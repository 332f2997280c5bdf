// Package boundrequest keeps a consumer (typically something displaying a
// remote resource) bound to at most one outstanding fetch.
//
// Binding a new key cancels the fetch for the previous one before the new
// fetch is issued, and results that arrive for a key that is no longer bound
// are dropped. All Controller methods must be called on the goroutine of its
// Scheduler; fetch callbacks arriving on other goroutines are posted there.
package boundrequest

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CancelToken cancels an in-flight fetch. Cancel must not block.
type CancelToken interface {
	Cancel()
}

// SizeHints limit the size of the fetched resource. Zero means unbounded.
type SizeHints struct {
	MaxWidth  int
	MaxHeight int
}

// Bounds is the consumer geometry reported by a layout pass.
type Bounds struct {
	Width  int
	Height int
	// The consumer sizes itself to its content in that dimension.
	WrapWidth  bool
	WrapHeight bool
}

// Fetcher issues asynchronous fetches.
//
// A fetch that can be satisfied locally may call onSuccess with immediate set
// to true before Fetch returns, on the calling goroutine. Every other callback
// may arrive on any goroutine. A stale payload may be followed by a fresh one,
// otherwise a fetch ends with exactly one callback.
type Fetcher interface {
	Fetch(key string, hints SizeHints, onSuccess func(payload []byte, immediate bool), onError func(err error)) CancelToken
}

// Display renders content. A nil payload clears it.
type Display interface {
	Show(payload []byte)
}

type Options struct {
	// Shown while a fetch is pending and when there is nothing to show.
	DefaultPlaceholder []byte
	// Shown when a fetch fails. If nil, failures leave the display untouched.
	ErrorPlaceholder []byte
	Logger           *zerolog.Logger
}

// request is the fetch currently owned by a Controller.
type request struct {
	key   string
	token CancelToken
	// a result (or error) has been delivered for key
	delivered bool
}

type Controller struct {
	fetcher Fetcher
	sched   Scheduler
	display Display
	opts    Options
	log     zerolog.Logger

	key     string
	bounds  Bounds
	current *request
}

func NewController(fetcher Fetcher, sched Scheduler, display Display, opts Options) *Controller {
	c := &Controller{
		fetcher: fetcher,
		sched:   sched,
		display: display,
		opts:    opts,
		log:     log.Logger,
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c
}

// Delivered reports whether a result for the bound key has been shown.
func (c *Controller) Delivered() bool {
	return c.current != nil && c.current.key == c.key && c.current.delivered
}

// Bind binds the controller to key, fetching it once the consumer geometry
// is known. An empty key unbinds.
func (c *Controller) Bind(key string) {
	c.key = key
	c.load(false)
}

// Layout reports new consumer geometry.
func (c *Controller) Layout(bounds Bounds) {
	c.bounds = bounds
	c.load(true)
}

// Detach cancels any fetch and clears the display.
func (c *Controller) Detach() {
	c.cancel()
	c.display.Show(nil)
}

func (c *Controller) load(inLayoutPass bool) {
	b := c.bounds
	if b.Width == 0 && b.Height == 0 && !(b.WrapWidth && b.WrapHeight) {
		return
	}

	if c.key == "" {
		c.cancel()
		c.showDefault()
		return
	}

	if c.current != nil {
		if c.current.key == c.key {
			return
		}
		c.cancel()
		c.showDefault()
	}

	hints := SizeHints{MaxWidth: b.Width, MaxHeight: b.Height}
	if b.WrapWidth {
		hints.MaxWidth = 0
	}
	if b.WrapHeight {
		hints.MaxHeight = 0
	}

	req := &request{key: c.key}
	c.current = req
	c.log.Trace().Str("key", req.key).Msg("Fetching")
	req.token = c.fetcher.Fetch(req.key, hints,
		func(payload []byte, immediate bool) {
			if immediate && !inLayoutPass {
				c.deliver(req, payload)
				return
			}
			// not on our goroutine, or in the middle of a layout pass
			c.sched.Post(func() { c.deliver(req, payload) })
		},
		func(err error) {
			c.sched.Post(func() { c.fail(req, err) })
		})
}

func (c *Controller) cancel() {
	if c.current == nil {
		return
	}
	if c.current.token != nil {
		c.log.Trace().Str("key", c.current.key).Msg("Cancelling fetch")
		c.current.token.Cancel()
	}
	c.current = nil
}

func (c *Controller) deliver(req *request, payload []byte) {
	if req != c.current {
		c.log.Trace().Str("key", req.key).Msg("Dropping result for unbound key")
		return
	}
	req.delivered = true
	if payload != nil {
		c.display.Show(payload)
	} else if c.opts.DefaultPlaceholder != nil {
		c.display.Show(c.opts.DefaultPlaceholder)
	}
}

func (c *Controller) fail(req *request, err error) {
	if req != c.current {
		c.log.Trace().Str("key", req.key).Msg("Dropping error for unbound key")
		return
	}
	req.delivered = true
	c.log.Debug().Err(err).Str("key", req.key).Msg("Fetch failed")
	if c.opts.ErrorPlaceholder != nil {
		c.display.Show(c.opts.ErrorPlaceholder)
	}
}

func (c *Controller) showDefault() {
	c.display.Show(c.opts.DefaultPlaceholder)
}
