// Package netcache is an HTTP client cache. Requests are dispatched on a pool
// of workers and answered from a persistent cache whenever RFC 9111 allows it;
// stored responses are revalidated in the background before they expire.
package netcache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/always-cache/netcache/cache"
	"github.com/always-cache/netcache/config"
	"github.com/always-cache/netcache/core"
	"github.com/always-cache/netcache/future"
	"github.com/always-cache/netcache/loader"
	cachekey "github.com/always-cache/netcache/pkg/cache-key"
	"github.com/always-cache/netcache/pkg/headers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Client used for origin requests, http.DefaultClient if nil.
	HTTPClient *http.Client
	// Transform applied by the loader to fetched payloads.
	Transform loader.Transform
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Client struct {
	config    config.Config
	cache     cache.CacheProvider
	closer    io.Closer
	engine    *core.Engine
	refresher *core.Refresher
	loader    *loader.Loader
	log       zerolog.Logger
}

// New creates a client from the configuration. An empty DB keeps the cache in
// memory only.
func New(cfg config.Config, opts Options) (*Client, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	c := &Client{config: cfg, log: logger}

	if cfg.DB == "" {
		c.cache = cache.NewMemCache()
	} else {
		db, err := cache.NewSQLiteCache(cfg.DB)
		if err != nil {
			return nil, err
		}
		c.cache = db
		c.closer = db
	}

	var rewriter core.UrlRewriter
	if len(cfg.Rewrites) > 0 {
		rewriter = cfg.Rewrites
	}
	c.engine = core.NewEngine(core.Config{
		Cache:      c.cache,
		Keyer:      cachekey.NewCacheKeyer(cfg.Namespace),
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		Timeout:    cfg.RequestTimeout,
		HTTPClient: opts.HTTPClient,
		Rewriter:   rewriter,
		Rules:      cfg.Rules,
		UserAgent:  cfg.UserAgent,
		Name:       cfg.Namespace,
		Logger:     &logger,
	})
	c.refresher = core.NewRefresher(c.engine, cfg.RefreshInterval)

	l, err := loader.New(loader.Config{
		Engine:        c.engine,
		MemoryEntries: cfg.MemoryEntries,
		Transform:     opts.Transform,
		Logger:        &logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.loader = l
	return c, nil
}

// Run processes requests, and refreshes the cache if a refresh interval is
// configured, until the context is done.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.engine.Run(ctx)
	})
	if c.config.RefreshInterval > 0 {
		g.Go(func() error {
			return c.refresher.Run(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) Engine() *core.Engine {
	return c.engine
}

// Loader returns the fetcher to bind boundrequest controllers to.
func (c *Client) Loader() *loader.Loader {
	return c.loader
}

// Get fetches the URL, waiting at most timeout (no limit if zero) or until
// ctx ends. The request is cancelled if it is given up on.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*core.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	f := c.engine.Future(core.NewRequest(http.MethodGet, url, nil, nil))
	res, err := f.GetContext(ctx)
	if err != nil && ctx.Err() != nil {
		f.Cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			err = future.ErrTimeout
		}
	}
	return res, err
}

// Entry returns the stored GET response for the URL, or nil.
func (c *Client) Entry(url string) (*cache.Entry, error) {
	key, err := c.engine.Key(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.cache.Get(key)
}

// Evict removes the URL from the cache and from the loader's memory.
func (c *Client) Evict(url string) error {
	key, err := c.engine.Key(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.loader.Evict(url)
	return c.cache.Purge(key)
}

// Refresh revalidates every stored GET response.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresher.RefreshAll(ctx)
}

// Handler returns the HTTP interface of the client:
//
//	GET    /fetch?url=&timeout=  fetch through the cache
//	GET    /entry?url=           show the stored entry
//	DELETE /entry?url=           evict the entry
//	POST   /refresh              revalidate all entries
func (c *Client) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/fetch", c.handleFetch)
	r.Get("/entry", c.handleEntry)
	r.Delete("/entry", c.handleEvict)
	r.Post("/refresh", c.handleRefresh)

	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	})
	return hlog.NewHandler(c.log)(access(r))
}

func (c *Client) handleFetch(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	var timeout time.Duration
	if t := r.URL.Query().Get("timeout"); t != "" {
		var err error
		if timeout, err = time.ParseDuration(t); err != nil {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
	}

	res, err := c.Get(r.Context(), url, timeout)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	for name, values := range res.Headers.HTTP() {
		w.Header()[name] = values
	}
	w.Header().Set("Cache-Status", res.CacheStatus.String(c.engine.Name()))
	statusCode := res.StatusCode
	if res.NotModified && res.Body != nil {
		// stored response was validated
		statusCode = http.StatusOK
	}
	w.WriteHeader(statusCode)
	w.Write(res.Body)
}

func (c *Client) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *core.StatusError
	switch {
	case errors.As(err, &statusErr):
		w.WriteHeader(statusErr.StatusCode)
		w.Write(statusErr.Body)
		return
	case errors.Is(err, core.ErrURLBlocked):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, future.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, core.ErrQueueFull), errors.Is(err, core.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
	hlog.FromRequest(r).Warn().Err(err).Msg("Fetch failed")
}

type entryInfo struct {
	SoftExpires  time.Time           `json:"softExpires"`
	HardExpires  time.Time           `json:"hardExpires"`
	ServerDate   time.Time           `json:"serverDate"`
	LastModified time.Time           `json:"lastModified"`
	ETag         string              `json:"etag,omitempty"`
	Charset      string              `json:"charset"`
	Headers      map[string][]string `json:"headers"`
	Size         int                 `json:"size"`
}

func (c *Client) handleEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := c.Entry(r.URL.Query().Get("url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if entry == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entryInfo{
		SoftExpires:  entry.SoftExpires,
		HardExpires:  entry.HardExpires,
		ServerDate:   entry.ServerDate,
		LastModified: entry.LastModified,
		ETag:         entry.ETag,
		Charset:      headers.ParseCharset(entry.Headers, headers.DefaultCharset),
		Headers:      entry.Headers.HTTP(),
		Size:         len(entry.Payload),
	})
}

func (c *Client) handleEvict(w http.ResponseWriter, r *http.Request) {
	if err := c.Evict(r.URL.Query().Get("url")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Client) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := c.Refresh(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
