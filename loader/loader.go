// Package loader fetches resources for bound consumers, keeping recently
// delivered payloads in memory so that they can be handed out immediately.
package loader

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/always-cache/netcache/boundrequest"
	"github.com/always-cache/netcache/core"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultMemoryEntries = 64

// Transform converts a fetched payload for display within the size hints,
// e.g. by decoding and scaling an image.
type Transform func(payload []byte, hints boundrequest.SizeHints) ([]byte, error)

type Config struct {
	Engine *core.Engine
	// Number of payloads kept in memory.
	MemoryEntries int
	Transform     Transform
	Logger        *zerolog.Logger
}

// Loader is a boundrequest.Fetcher fetching URLs through an engine.
type Loader struct {
	engine    *core.Engine
	memory    *lru.Cache[string, []byte]
	transform Transform
	log       zerolog.Logger
}

func New(config Config) (*Loader, error) {
	size := config.MemoryEntries
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	memory, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		engine:    config.Engine,
		memory:    memory,
		transform: config.Transform,
		log:       log.Logger,
	}
	if config.Logger != nil {
		l.log = *config.Logger
	}
	return l, nil
}

// Fetch implements boundrequest.Fetcher. Payloads held in memory for the same
// URL and size hints are delivered immediately.
func (l *Loader) Fetch(url string, hints boundrequest.SizeHints, onSuccess func([]byte, bool), onError func(error)) boundrequest.CancelToken {
	key := memoryKey(url, hints)
	if payload, ok := l.memory.Get(key); ok {
		l.log.Trace().Str("url", url).Msg("Memory hit")
		onSuccess(payload, true)
		return nil
	}
	req := core.NewRequest(http.MethodGet, url, func(res *core.Response) {
		payload := res.Body
		if l.transform != nil {
			transformed, err := l.transform(payload, hints)
			if err != nil {
				onError(fmt.Errorf("could not transform %s: %w", url, err))
				return
			}
			payload = transformed
		}
		l.memory.Add(key, payload)
		onSuccess(payload, false)
	}, onError)
	l.engine.Add(req)
	return req
}

// Evict removes all payloads of url from memory.
func (l *Loader) Evict(url string) {
	for _, key := range l.memory.Keys() {
		if urlOfMemoryKey(key) == url {
			l.memory.Remove(key)
		}
	}
}

func memoryKey(url string, hints boundrequest.SizeHints) string {
	return fmt.Sprintf("#W%d#H%d#%s", hints.MaxWidth, hints.MaxHeight, url)
}

// urlOfMemoryKey returns the URL part of a key built by memoryKey.
func urlOfMemoryKey(key string) string {
	_, rest, _ := strings.Cut(key, "#H")
	_, url, _ := strings.Cut(rest, "#")
	return url
}
