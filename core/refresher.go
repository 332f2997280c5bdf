package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/always-cache/netcache/cache"
	cachekey "github.com/always-cache/netcache/pkg/cache-key"
	"github.com/rs/zerolog"
)

// Refresher revalidates stored responses before they need a refresh, so that
// requests keep being answered from the cache.
type Refresher struct {
	engine *Engine
	cache  cache.CacheProvider
	keyer  cachekey.CacheKeyer
	// entries needing a refresh within this interval are refreshed
	interval time.Duration
	log      zerolog.Logger
}

func NewRefresher(engine *Engine, interval time.Duration) *Refresher {
	return &Refresher{
		engine:   engine,
		cache:    engine.cache,
		keyer:    engine.keyer,
		interval: interval,
		log:      engine.log.With().Str("component", "refresher").Logger(),
	}
}

// Run refreshes the cache one entry at a time until the context is done.
// It queries the cache for the entry needing a refresh first. If that is due
// within the interval, it is refreshed, otherwise Run sleeps for the interval.
func (r *Refresher) Run(ctx context.Context) error {
	r.log.Info().Msgf("Starting cache refresh loop with interval %s", r.interval)
	for {
		key, expiry, err := r.cache.Oldest(r.keyer.MethodPrefix(http.MethodGet))
		switch {
		case err != nil:
			r.log.Error().Err(err).Msg("Could not get oldest entry")
		case key != "" && expiry.Sub(r.engine.now()) <= r.interval:
			r.RefreshKey(ctx, key)
			if !r.dueSoon(key) {
				continue
			}
			// short-lived entry, do not hammer the origin
			r.log.Trace().Str("key", key).Msg("Refreshed entry is due again, pausing refresh")
		default:
			r.log.Trace().Msg("No entries expiring, pausing refresh")
		}
		if err := sleep(ctx, r.interval); err != nil {
			return err
		}
	}
}

func (r *Refresher) dueSoon(key string) bool {
	entry, err := r.cache.Get(key)
	return err == nil && entry != nil && entry.SoftExpires.Sub(r.engine.now()) <= r.interval
}

// RefreshAll refreshes every stored GET response.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	var keys []string
	if err := r.cache.AllKeys(r.keyer.MethodPrefix(http.MethodGet), func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return err
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.RefreshKey(ctx, key)
	}
	return nil
}

// RefreshKey revalidates the stored response identified by the given key.
// If it cannot be refreshed, it is purged from the cache.
func (r *Refresher) RefreshKey(ctx context.Context, key string) {
	log := r.log.With().Str("key", key).Logger()
	req, err := r.keyer.GetRequestFromKey(key)
	if err == nil {
		log.Trace().Str("url", req.URL.String()).Msg("Refreshing cache entry")
		refresh := NewRequest(req.Method, req.URL.String(), nil, nil)
		refresh.Header = req.Header
		refresh.Revalidate = true
		_, err = r.engine.Do(ctx, refresh)
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if !errors.Is(err, cachekey.ErrorMethodNotSupported) {
			log.Warn().Err(err).Msg("Could not refresh cache entry")
		}
		if err := r.cache.Purge(key); err != nil {
			log.Error().Err(err).Msg("Could not purge cache entry")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
