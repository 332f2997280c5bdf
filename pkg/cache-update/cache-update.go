// Package cacheupdate parses the `Cache-Update` response header, with which an
// origin asks for stored responses to be refreshed after an unsafe request.
//
//	Cache-Update: /posts; delay=5
package cacheupdate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/netcache/pkg/headers"
	"github.com/always-cache/netcache/rfc9111"
)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Fully resolved URL of the resource.
	URL string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayRegexp = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetCacheUpdates gets the updates specified by the response to a request with
// the given method and URL, which is used to resolve relative update paths.
// Only responses to unsafe requests can specify updates.
func GetCacheUpdates(method string, reqURL *url.URL, h headers.Headers) []CacheUpdate {
	if !rfc9111.UnsafeMethod(method) {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	for _, update := range h.Values("Cache-Update") {
		// path is the first element
		path := strings.TrimSpace(strings.Split(update, ";")[0])
		if path == "" {
			continue
		}
		ref, err := url.Parse(path)
		if err != nil {
			continue
		}
		updates = append(updates, CacheUpdate{
			URL:   reqURL.ResolveReference(ref).String(),
			Delay: getDelay(update),
		})
	}
	return updates
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayRegexp.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
