package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/netcache/cache"
	"github.com/always-cache/netcache/future"
	cachekey "github.com/always-cache/netcache/pkg/cache-key"
	responsetransformer "github.com/always-cache/netcache/pkg/response-transformer"
	"github.com/always-cache/netcache/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEngine struct {
	*Engine
	server *httptest.Server
	cache  cache.MemCache
	clock  *testClock
	// origin requests
	hits atomic.Int32
}

func startTestEngine(t *testing.T, handler http.HandlerFunc, configure ...func(*Config)) *testEngine {
	te := &testEngine{
		cache: cache.NewMemCache(),
		clock: &testClock{now: time.Now()},
	}
	te.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(te.server.Close)

	config := Config{
		Cache: te.cache,
		Keyer: cachekey.NewCacheKeyer("test"),
		Now:   te.clock.Now,
	}
	for _, c := range configure {
		c(&config)
	}
	te.Engine = NewEngine(config)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		te.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return te
}

func (te *testEngine) get(t *testing.T, path string) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return te.Do(ctx, NewRequest(http.MethodGet, te.server.URL+path, nil, nil))
}

func (te *testEngine) key(t *testing.T, path string) string {
	key, err := te.Key(http.MethodGet, te.server.URL+path, nil)
	require.NoError(t, err)
	return key
}

func TestMissThenHit(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("Hello world"))
	})

	res, err := te.get(t, "/hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", string(res.Body))
	assert.Equal(t, rfc9211.FwdReasonUriMiss, res.CacheStatus.FwdReason)
	assert.True(t, res.CacheStatus.Stored)

	res, err = te.get(t, "/hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", string(res.Body))
	assert.Equal(t, rfc9211.StatusHit, res.CacheStatus.Status)
	assert.Equal(t, 60, res.CacheStatus.TimeToLive)
	assert.EqualValues(t, 1, te.hits.Load())
}

func TestHardExpiredIsRevalidated(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.Header().Set("Cache-Control", "max-age=100")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "max-age=10")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("v1 body"))
	})

	_, err := te.get(t, "/res")
	require.NoError(t, err)
	te.clock.Advance(20 * time.Second)

	res, err := te.get(t, "/res")
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.Equal(t, "v1 body", string(res.Body))
	assert.Equal(t, "max-age=100", res.Headers.Value("Cache-Control"))
	assert.Equal(t, "text/plain", res.Headers.Value("Content-Type"))
	assert.Equal(t, rfc9211.FwdReasonStale, res.CacheStatus.FwdReason)
	assert.Equal(t, http.StatusNotModified, res.CacheStatus.FwdStatus)
	assert.True(t, res.CacheStatus.Stored)

	entry, err := te.cache.Get(te.key(t, "/res"))
	require.NoError(t, err)
	assert.Equal(t, te.clock.Now().Add(100*time.Second), entry.SoftExpires)
	assert.Equal(t, "v1 body", string(entry.Payload))
	assert.EqualValues(t, 2, te.hits.Load())
}

func TestSoftExpiredDeliversStaleThenRevalidates(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=10, stale-while-revalidate=60")
		fmt.Fprintf(w, "v%d", version.Load())
	})

	_, err := te.get(t, "/swr")
	require.NoError(t, err)
	te.clock.Advance(20 * time.Second)
	version.Store(2)

	responses := make(chan *Response, 2)
	te.Add(NewRequest(http.MethodGet, te.server.URL+"/swr", func(res *Response) {
		responses <- res
	}, func(err error) {
		t.Errorf("Unexpected error %v", err)
	}))

	stale := <-responses
	assert.True(t, stale.Intermediate)
	assert.Equal(t, "v1", string(stale.Body))
	assert.Equal(t, rfc9211.StatusHit, stale.CacheStatus.Status)
	assert.Equal(t, -10, stale.CacheStatus.TimeToLive)

	fresh := <-responses
	assert.False(t, fresh.Intermediate)
	assert.Equal(t, "v2", string(fresh.Body))
	assert.Equal(t, rfc9211.FwdReasonStale, fresh.CacheStatus.FwdReason)
}

func TestSoftExpiredNotModifiedDeliversOnce(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=10, stale-while-revalidate=60")
		w.Header().Set("Last-Modified", "Fri, 01 Mar 2024 12:00:00 GMT")
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("body"))
	})

	_, err := te.get(t, "/swr")
	require.NoError(t, err)
	te.clock.Advance(20 * time.Second)

	var delivered atomic.Int32
	te.Add(NewRequest(http.MethodGet, te.server.URL+"/swr", func(res *Response) {
		delivered.Add(1)
	}, nil))

	key := te.key(t, "/swr")
	assert.Eventually(t, func() bool {
		entry, _ := te.cache.Get(key)
		return entry != nil && !entry.RefreshNeeded(te.clock.Now())
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, delivered.Load())
	assert.EqualValues(t, 2, te.hits.Load())
}

func TestNoStoreIsNotCached(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte("secret"))
	})
	for i := 0; i < 2; i++ {
		res, err := te.get(t, "/secret")
		require.NoError(t, err)
		assert.False(t, res.CacheStatus.Stored)
	}
	assert.EqualValues(t, 2, te.hits.Load())
	assert.False(t, te.cache.Has(te.key(t, "/secret")))
}

func TestStatusError(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	_, err := te.get(t, "/missing")
	require.Error(t, err)

	var remote *future.RemoteError
	assert.ErrorAs(t, err, &remote)
	assert.ErrorIs(t, err, ErrStatus)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRewriter(t *testing.T) {
	var te *testEngine
	te = startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}, func(c *Config) {
		c.Rewriter = rewriterFunc(func(url string) (string, bool) {
			return RewriteRules{
				{Prefix: te.server.URL + "/blocked", Block: true},
				{Prefix: "http://moved.invalid", Replace: te.server.URL},
			}.RewriteUrl(url)
		})
	})

	_, err := te.get(t, "/blocked/a")
	assert.ErrorIs(t, err, ErrURLBlocked)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := te.Do(ctx, NewRequest(http.MethodGet, "http://moved.invalid/here", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "/here", string(res.Body))
	assert.EqualValues(t, 1, te.hits.Load())
}

type rewriterFunc func(string) (string, bool)

func (f rewriterFunc) RewriteUrl(url string) (string, bool) { return f(url) }

func TestRulesMakeResponseCacheable(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no cache-control"))
	}, func(c *Config) {
		c.Rules = responsetransformer.Rules{{Prefix: "/static", Default: "max-age=60"}}
	})
	for i := 0; i < 2; i++ {
		_, err := te.get(t, "/static/app.js")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, te.hits.Load())
}

func TestUserAgentAndCacheKeyHeader(t *testing.T) {
	var userAgent, cacheKey atomic.Value
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		cacheKey.Store(r.Header.Get("Cache-Key"))
	}, func(c *Config) {
		c.UserAgent = "netcache-test"
	})
	req := NewRequest(http.MethodGet, te.server.URL+"/ua", nil, nil)
	req.Header.Set("Cache-Key", "variant")
	_, err := te.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "netcache-test", userAgent.Load())
	assert.Equal(t, "", cacheKey.Load())
}

func TestCancelledRequestIsNotDelivered(t *testing.T) {
	release := make(chan struct{})
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("late"))
	})

	var called atomic.Bool
	req := te.Add(NewRequest(http.MethodGet, te.server.URL+"/slow", func(*Response) {
		called.Store(true)
	}, func(error) {
		called.Store(true)
	}))
	assert.Eventually(t, func() bool { return te.hits.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	req.Cancel()
	close(release)

	// the response is still stored for later requests
	assert.Eventually(t, func() bool { return te.cache.Has(te.key(t, "/slow")) }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, called.Load())
}

func TestCancelledBeforeDispatch(t *testing.T) {
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {})
	req := NewRequest(http.MethodGet, te.server.URL+"/", func(*Response) {
		t.Error("Cancelled request delivered")
	}, nil)
	req.Cancel()
	te.Add(req)

	_, err := te.get(t, "/after")
	require.NoError(t, err)
	assert.EqualValues(t, 1, te.hits.Load())
}

func TestIdenticalRequestsAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("shared"))
	})

	var wg sync.WaitGroup
	bodies := make([]string, 3)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := te.get(t, "/shared")
			if assert.NoError(t, err) {
				bodies[i] = string(res.Body)
			}
		}(i)
	}
	assert.Eventually(t, func() bool { return te.hits.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	// let the other workers join the origin request
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []string{"shared", "shared", "shared"}, bodies)
	assert.EqualValues(t, 1, te.hits.Load())
}

func TestQueueFull(t *testing.T) {
	e := NewEngine(Config{QueueSize: 1})
	e.Add(NewRequest(http.MethodGet, "http://localhost/1", nil, nil))

	var got error
	e.Add(NewRequest(http.MethodGet, "http://localhost/2", nil, func(err error) { got = err }))
	assert.ErrorIs(t, got, ErrQueueFull)
}

func TestStoppedEngine(t *testing.T) {
	e := NewEngine(Config{})
	var queued error
	e.Add(NewRequest(http.MethodGet, "http://localhost/queued", nil, func(err error) { queued = err }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Run(ctx), context.Canceled)
	assert.ErrorIs(t, queued, ErrStopped)

	_, err := e.Do(context.Background(), NewRequest(http.MethodGet, "http://localhost/", nil, nil))
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestUnsafeRequestInvalidatesAndUpdates(t *testing.T) {
	var feedHits atomic.Int32
	te := startTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Header().Set("Location", "/posts/2")
			w.Header().Set("Cache-Update", "/feed")
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/feed":
			feedHits.Add(1)
			w.Header().Set("Cache-Control", "max-age=60")
			fmt.Fprintf(w, "feed %d", feedHits.Load())
		default:
			w.Header().Set("Cache-Control", "max-age=60")
			w.Write([]byte(r.URL.Path))
		}
	})
	for _, path := range []string{"/posts", "/posts/2", "/feed"} {
		_, err := te.get(t, path)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := te.Do(ctx, NewRequest(http.MethodPost, te.server.URL+"/posts", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, rfc9211.FwdReasonBypass, res.CacheStatus.FwdReason)

	assert.False(t, te.cache.Has(te.key(t, "/posts")))
	assert.False(t, te.cache.Has(te.key(t, "/posts/2")))
	assert.Eventually(t, func() bool {
		entry, _ := te.cache.Get(te.key(t, "/feed"))
		return entry != nil && string(entry.Payload) == "feed 2"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAddWhileStoppingAlwaysCallsBack(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer origin.Close()

	for i := 0; i < 20; i++ {
		e := NewEngine(Config{Keyer: cachekey.NewCacheKeyer("test"), Workers: 1})
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			e.Run(ctx)
		}()

		var outcomes atomic.Int32
		var wg sync.WaitGroup
		for j := 0; j < 100; j++ {
			wg.Add(1)
			j := j
			go func() {
				defer wg.Done()
				e.Add(NewRequest(http.MethodGet, fmt.Sprintf("%s/%d", origin.URL, j),
					func(*Response) { outcomes.Add(1) },
					func(error) { outcomes.Add(1) }))
			}()
		}
		cancel()
		wg.Wait()
		<-stopped
		require.Equal(t, int32(100), outcomes.Load())
	}
}
