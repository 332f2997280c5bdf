package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/netcache/boundrequest"
	"github.com/always-cache/netcache/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	payload   []byte
	immediate bool
	err       error
}

func startLoader(t *testing.T, transform Transform) (*Loader, *httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprintf(w, "payload %s", r.URL.Path)
	}))
	t.Cleanup(server.Close)

	engine := core.NewEngine(core.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(cancel)

	l, err := New(Config{Engine: engine, Transform: transform})
	require.NoError(t, err)
	return l, server, &hits
}

func fetch(l *Loader, url string, hints boundrequest.SizeHints) (chan result, boundrequest.CancelToken) {
	results := make(chan result, 2)
	token := l.Fetch(url, hints, func(payload []byte, immediate bool) {
		results <- result{payload: payload, immediate: immediate}
	}, func(err error) {
		results <- result{err: err}
	})
	return results, token
}

func TestMemoryHitIsImmediate(t *testing.T) {
	l, server, hits := startLoader(t, nil)
	hints := boundrequest.SizeHints{MaxWidth: 10}

	results, token := fetch(l, server.URL+"/a", hints)
	assert.NotNil(t, token)
	first := <-results
	require.NoError(t, first.err)
	assert.False(t, first.immediate)
	assert.Equal(t, "payload /a", string(first.payload))

	results, token = fetch(l, server.URL+"/a", hints)
	assert.Nil(t, token)
	// delivered before Fetch returned
	require.Len(t, results, 1)
	second := <-results
	assert.True(t, second.immediate)
	assert.Equal(t, "payload /a", string(second.payload))
	assert.EqualValues(t, 1, hits.Load())
}

func TestOtherHintsMissMemory(t *testing.T) {
	l, server, hits := startLoader(t, nil)
	results, _ := fetch(l, server.URL+"/a", boundrequest.SizeHints{MaxWidth: 10})
	<-results
	results, _ = fetch(l, server.URL+"/a", boundrequest.SizeHints{MaxWidth: 20})
	res := <-results
	assert.False(t, res.immediate)
	// answered from the engine cache
	assert.EqualValues(t, 1, hits.Load())
}

func TestTransform(t *testing.T) {
	l, server, _ := startLoader(t, func(payload []byte, hints boundrequest.SizeHints) ([]byte, error) {
		if hints.MaxWidth == 0 {
			return nil, errors.New("unbounded")
		}
		return append(bytes.ToUpper(payload), fmt.Sprintf(" %d", hints.MaxWidth)...), nil
	})

	results, _ := fetch(l, server.URL+"/t", boundrequest.SizeHints{MaxWidth: 5})
	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "PAYLOAD /T 5", string(res.payload))

	results, _ = fetch(l, server.URL+"/t", boundrequest.SizeHints{})
	res = <-results
	assert.ErrorContains(t, res.err, "unbounded")
}

func TestFetchError(t *testing.T) {
	l, server, _ := startLoader(t, nil)
	results, _ := fetch(l, server.URL+"/missing", boundrequest.SizeHints{})
	res := <-results
	assert.ErrorIs(t, res.err, core.ErrStatus)
}

func TestEvict(t *testing.T) {
	l, server, _ := startLoader(t, nil)
	for _, width := range []int{1, 2} {
		results, _ := fetch(l, server.URL+"/e", boundrequest.SizeHints{MaxWidth: width})
		<-results
	}
	results, _ := fetch(l, server.URL+"/other", boundrequest.SizeHints{})
	<-results
	l.Evict(server.URL + "/e")
	assert.Equal(t, 1, l.memory.Len())
}

type recordingDisplay struct {
	shown chan string
}

func (d *recordingDisplay) Show(payload []byte) {
	d.shown <- string(payload)
}

func TestBoundController(t *testing.T) {
	l, server, hits := startLoader(t, nil)
	loop := boundrequest.NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go loop.Run(ctx)

	display := &recordingDisplay{shown: make(chan string, 10)}
	c := boundrequest.NewController(l, loop, display, boundrequest.Options{DefaultPlaceholder: []byte("loading")})
	require.NoError(t, loop.Do(ctx, func() {
		c.Layout(boundrequest.Bounds{Width: 10, Height: 10})
		c.Bind(server.URL + "/img")
	}))
	assert.Equal(t, "loading", <-display.shown)
	assert.Equal(t, "payload /img", <-display.shown)

	// a second consumer gets the payload from memory
	display2 := &recordingDisplay{shown: make(chan string, 10)}
	c2 := boundrequest.NewController(l, loop, display2, boundrequest.Options{})
	require.NoError(t, loop.Do(ctx, func() {
		c2.Bind(server.URL + "/img")
		c2.Layout(boundrequest.Bounds{Width: 10, Height: 10})
	}))
	assert.Equal(t, "payload /img", <-display2.shown)
	assert.EqualValues(t, 1, hits.Load())
}
