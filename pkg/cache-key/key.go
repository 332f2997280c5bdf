// Package cachekey derives cache keys from requests, and requests from keys.
package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrorMethodNotSupported = errors.New("method not supported")

const (
	namespaceSeparator = ":"
	methodSeparator    = ":"
	extraSeparator     = "\t"
)

// CacheKeyHeader is a request header whose value becomes part of the key,
// for requests that differ in ways the URL does not show.
const CacheKeyHeader = "Cache-Key"

type CacheKeyer struct {
	// Namespace lets several clients share one store.
	Namespace string
	// Cache key prefix for this namespace
	NamespacePrefix string
}

func NewCacheKeyer(namespace string) CacheKeyer {
	return CacheKeyer{
		Namespace:       namespace,
		NamespacePrefix: namespace + namespaceSeparator,
	}
}

// MethodPrefix gets the key prefix for the namespace with the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.NamespacePrefix + method + methodSeparator
}

// Key returns the cache key of a request: its method and absolute URL,
// plus the `Cache-Key` header if present.
func (c CacheKeyer) Key(r *http.Request) string {
	key := c.MethodPrefix(r.Method) + r.URL.String() + extraSeparator
	if ck := r.Header.Get(CacheKeyHeader); ck != "" {
		key += ck
	}
	return key
}

// GetRequestFromKey generates a request that is caching-wise equal to the
// request that resulted in the provided key.
// Only GET requests can be recreated.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.NamespacePrefix) {
		return nil, fmt.Errorf("key and namespace do not match: %s", key)
	}
	keyNoNamespace := strings.TrimPrefix(key, c.NamespacePrefix)
	keyNoExtra, extra, found := strings.Cut(keyNoNamespace, extraSeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	method, uri, found := strings.Cut(keyNoExtra, methodSeparator)
	if !found {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return nil, err
	}
	if extra != "" {
		req.Header.Set(CacheKeyHeader, extra)
	}
	return req, nil
}
