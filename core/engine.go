// Package core dispatches requests on a pool of workers, answering them from
// the cache when possible and revalidating stored responses with the origin.
package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/always-cache/netcache/cache"
	cachekey "github.com/always-cache/netcache/pkg/cache-key"
	cacheupdate "github.com/always-cache/netcache/pkg/cache-update"
	"github.com/always-cache/netcache/pkg/headers"
	responsetransformer "github.com/always-cache/netcache/pkg/response-transformer"
	"github.com/always-cache/netcache/rfc9111"
	"github.com/always-cache/netcache/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
	DefaultTimeout   = 10 * time.Second
	DefaultName      = "netcache"
)

type Config struct {
	Cache cache.CacheProvider
	Keyer cachekey.CacheKeyer
	// Number of requests processed concurrently.
	Workers   int
	QueueSize int
	// Timeout of a single origin request.
	Timeout    time.Duration
	HTTPClient *http.Client
	Rewriter   UrlRewriter
	Rules      responsetransformer.Rules
	UserAgent  string
	// Cache name used in Cache-Status.
	Name   string
	Logger *zerolog.Logger
	// Clock, time.Now if nil.
	Now func() time.Time
}

type Engine struct {
	cache      cache.CacheProvider
	keyer      cachekey.CacheKeyer
	workers    int
	timeout    time.Duration
	httpClient *http.Client
	rewriter   UrlRewriter
	rules      responsetransformer.Rules
	userAgent  string
	name       string
	log        zerolog.Logger
	now        func() time.Time

	queue  chan *Request
	flight singleflight.Group
	// guards stopped and sends on queue, so that nothing is queued once the
	// queue has been drained
	mu      sync.Mutex
	stopped bool
}

// fetched is an origin response with its body read.
// It may be shared by coalesced requests and must not be modified.
type fetched struct {
	statusCode int
	header     headers.Headers
	body       []byte
}

func NewEngine(config Config) *Engine {
	e := &Engine{
		cache:      config.Cache,
		keyer:      config.Keyer,
		workers:    config.Workers,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
		rewriter:   config.Rewriter,
		rules:      config.Rules,
		userAgent:  config.UserAgent,
		name:       config.Name,
		log:        log.Logger,
		now:        config.Now,
	}
	if e.cache == nil {
		e.cache = cache.NewMemCache()
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{}
	}
	if e.name == "" {
		e.name = DefaultName
	}
	if config.Logger != nil {
		e.log = *config.Logger
	}
	if e.now == nil {
		e.now = time.Now
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e.queue = make(chan *Request, queueSize)
	return e
}

// Run processes queued requests until the context is done.
// Requests still queued then fail with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Int("workers", e.workers).Msg("Starting request engine")
	g, workCtx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			e.work(workCtx)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	for {
		select {
		case req := <-e.queue:
			e.fail(req, ErrStopped)
		default:
			e.log.Info().Msg("Request engine stopped")
			return err
		}
	}
}

// Add queues a request. It never blocks: if the request cannot be queued,
// its error callback is called right away.
func (e *Engine) Add(req *Request) *Request {
	var err error
	e.mu.Lock()
	if e.stopped {
		err = ErrStopped
	} else {
		select {
		case e.queue <- req:
		default:
			err = ErrQueueFull
		}
	}
	e.mu.Unlock()
	if err != nil {
		e.fail(req, err)
		return req
	}
	e.log.Trace().Str("id", req.ID).Str("url", req.URL).Msg("Request queued")
	return req
}

// Key returns the cache key for a request with the given method, URL and headers.
func (e *Engine) Key(method, url string, header http.Header) (string, error) {
	r, err := http.NewRequest(method, url, nil)
	if err != nil {
		return "", err
	}
	if header != nil {
		r.Header = header
	}
	return e.keyer.Key(r), nil
}

func (e *Engine) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.queue:
			if ctx.Err() != nil {
				e.fail(req, ErrStopped)
				return
			}
			e.process(ctx, req)
		}
	}
}

func (e *Engine) process(ctx context.Context, req *Request) {
	log := e.log.With().Str("id", req.ID).Str("method", req.Method).Str("url", req.URL).Logger()
	if req.IsCancelled() {
		log.Trace().Msg("Cancelled before dispatch")
		return
	}

	key, err := e.Key(req.Method, req.URL, req.Header)
	if err != nil {
		e.fail(req, err)
		return
	}
	log = log.With().Str("key", key).Logger()

	target := req.URL
	if e.rewriter != nil {
		rewritten, ok := e.rewriter.RewriteUrl(target)
		if !ok {
			log.Debug().Msg("URL blocked")
			e.fail(req, fmt.Errorf("%w: %s", ErrURLBlocked, target))
			return
		}
		target = rewritten
	}
	originReq, err := http.NewRequest(req.Method, target, nil)
	if err != nil {
		e.fail(req, err)
		return
	}
	copyHeader(originReq.Header, req.Header)
	originReq.Header.Del(cachekey.CacheKeyHeader)
	if e.userAgent != "" && originReq.Header.Get("User-Agent") == "" {
		originReq.Header.Set("User-Agent", e.userAgent)
	}

	var status rfc9211.CacheStatus
	var entry *cache.Entry
	if req.ShouldCache {
		entry = e.lookup(key, log)
		now := e.now()
		switch {
		case entry == nil:
			status.Forward(rfc9211.FwdReasonUriMiss)
		case req.Revalidate:
			status.Forward(rfc9211.FwdReasonRequest)
		case entry.IsExpired(now):
			status.Forward(rfc9211.FwdReasonStale)
		case !entry.RefreshNeeded(now):
			log.Trace().Msg("Cache hit")
			status.Hit()
			status.TimeToLive = ttl(entry, now)
			e.deliver(req, cachedResponse(entry, status))
			return
		default:
			log.Trace().Msg("Cache hit, refresh needed")
			stale := rfc9211.CacheStatus{Status: rfc9211.StatusHit, TimeToLive: ttl(entry, now)}
			res := cachedResponse(entry, stale)
			res.Intermediate = true
			e.deliver(req, res)
			status.Forward(rfc9211.FwdReasonStale)
		}
		if entry != nil {
			for name, values := range entry.ConditionalHeaders() {
				if originReq.Header.Get(name) == "" {
					originReq.Header[name] = values
				}
			}
		}
	} else {
		status.Forward(rfc9211.FwdReasonBypass)
	}

	res, err := e.fetch(ctx, originReq, log)
	if err != nil {
		e.fail(req, err)
		return
	}
	status.FwdStatus = res.statusCode
	now := e.now()
	if rfc9111.UnsafeMethod(req.Method) {
		e.afterUnsafe(req, res.statusCode, res.header, log)
	}

	switch {
	case res.statusCode == http.StatusNotModified:
		if entry == nil {
			// conditional request from the caller
			e.deliver(req, &Response{StatusCode: res.statusCode, Headers: res.header.Clone(), NotModified: true, CacheStatus: status})
			return
		}
		refreshed, err := entry.Refresh(rfc9111.StorableHeaders(res.header), now)
		if err != nil {
			log.Warn().Err(err).Msg("Could not refresh entry")
		}
		status.Stored = e.store(key, refreshed, log)
		if req.delivered.Load() {
			log.Trace().Msg("Not modified, response already delivered")
			return
		}
		combined := rfc9111.CombineHeaders(res.header, entry.Headers)
		e.deliver(req, &Response{
			StatusCode:  res.statusCode,
			Headers:     combined,
			Body:        entry.Payload,
			NotModified: true,
			CacheStatus: status,
		})

	case res.statusCode >= 200 && res.statusCode < 300:
		h := res.header.Clone()
		e.rules.Apply(req.Method, originReq.URL, res.statusCode, &h)
		if req.ShouldCache {
			fresh, err := cache.NewEntry(rfc9111.StorableHeaders(h), res.body, now)
			if err != nil {
				log.Debug().Err(err).Msg("Response not cacheable")
			}
			status.Stored = e.store(key, fresh, log)
		}
		e.deliver(req, &Response{StatusCode: res.statusCode, Headers: h, Body: res.body, CacheStatus: status})

	default:
		e.fail(req, &StatusError{StatusCode: res.statusCode, Body: res.body})
	}
}

// afterUnsafe purges the responses invalidated by the response to an unsafe
// request, and queues the refreshes the origin asked for.
func (e *Engine) afterUnsafe(req *Request, statusCode int, h headers.Headers, log zerolog.Logger) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return
	}
	for _, uri := range rfc9111.GetInvalidateURIs(req.Method, target, statusCode, h) {
		key, err := e.Key(http.MethodGet, uri.String(), nil)
		if err != nil {
			continue
		}
		log.Trace().Str("uri", uri.String()).Msg("Invalidating stored response")
		if err := e.cache.Purge(key); err != nil {
			log.Error().Err(err).Str("uri", uri.String()).Msg("Could not purge cache entry")
		}
	}
	for _, update := range cacheupdate.GetCacheUpdates(req.Method, target, h) {
		log.Trace().Str("update", update.URL).Dur("delay", update.Delay).Msg("Updating cache based on header")
		refresh := NewRequest(http.MethodGet, update.URL, nil, nil)
		refresh.Revalidate = true
		if update.Delay > 0 {
			time.AfterFunc(update.Delay, func() { e.Add(refresh) })
		} else {
			e.Add(refresh)
		}
	}
}

func (e *Engine) lookup(key string, log zerolog.Logger) *cache.Entry {
	entry, err := e.cache.Get(key)
	if err != nil {
		log.Error().Err(err).Msg("Could not read from cache")
		return nil
	}
	return entry
}

// store writes the entry to the cache, or purges the key if entry is nil.
// It reports whether the entry was stored.
func (e *Engine) store(key string, entry *cache.Entry, log zerolog.Logger) bool {
	if entry == nil {
		if err := e.cache.Purge(key); err != nil {
			log.Error().Err(err).Msg("Could not purge cache entry")
		}
		return false
	}
	if err := e.cache.Put(key, entry); err != nil {
		log.Error().Err(err).Msg("Could not write to cache")
		return false
	}
	log.Trace().Time("softExpires", entry.SoftExpires).Time("hardExpires", entry.HardExpires).Msg("Cache write")
	return true
}

// fetch sends the request to the origin. Identical concurrent GET requests
// share one origin request.
func (e *Engine) fetch(ctx context.Context, r *http.Request, log zerolog.Logger) (*fetched, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return e.fetchOnce(ctx, r, log)
	}
	flightKey := r.Method + " " + r.URL.String()
	for _, field := range headers.FromHTTP(r.Header) {
		flightKey += "\n" + field.Name + ": " + field.Value
	}
	v, err, shared := e.flight.Do(flightKey, func() (interface{}, error) {
		return e.fetchOnce(ctx, r, log)
	})
	if shared {
		log.Trace().Msg("Shared origin request")
	}
	if err != nil {
		return nil, err
	}
	return v.(*fetched), nil
}

func (e *Engine) fetchOnce(ctx context.Context, r *http.Request, log zerolog.Logger) (*fetched, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	log.Debug().Msg("Requesting content from origin")
	res, err := e.httpClient.Do(r.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	log.Trace().Int("status", res.StatusCode).Int("bytes", len(body)).Msg("Got response from origin")

	h := headers.FromHTTP(res.Header)
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if !h.Has("Date") {
		h.Add("Date", rfc9111.ToHttpDate(e.now()))
	}
	return &fetched{statusCode: res.StatusCode, header: h, body: body}, nil
}

func (e *Engine) deliver(req *Request, res *Response) {
	if req.IsCancelled() {
		e.log.Trace().Str("id", req.ID).Msg("Cancelled at delivery")
		return
	}
	req.delivered.Store(true)
	e.log.Debug().
		Str("id", req.ID).
		Str("url", req.URL).
		Int("status", res.StatusCode).
		Str("cache-status", res.CacheStatus.String(e.name)).
		Bool("intermediate", res.Intermediate).
		Msg("Delivering response")
	if req.OnSuccess != nil {
		req.OnSuccess(res)
	}
}

func (e *Engine) fail(req *Request, err error) {
	if req.IsCancelled() {
		e.log.Trace().Str("id", req.ID).Msg("Cancelled at delivery")
		return
	}
	e.log.Debug().Err(err).Str("id", req.ID).Str("url", req.URL).Msg("Request failed")
	if req.OnError != nil {
		req.OnError(err)
	}
}

// Name is the cache name used in Cache-Status values.
func (e *Engine) Name() string {
	return e.name
}

func cachedResponse(entry *cache.Entry, status rfc9211.CacheStatus) *Response {
	return &Response{
		StatusCode:  http.StatusOK,
		Headers:     entry.Headers,
		Body:        entry.Payload,
		CacheStatus: status,
	}
}

// ttl is the number of seconds until the entry needs a refresh.
func ttl(entry *cache.Entry, now time.Time) int {
	return int(entry.SoftExpires.Sub(now) / time.Second)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
