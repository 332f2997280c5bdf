package rfc9111

import (
	"net/http"
	"net/url"

	"github.com/always-cache/netcache/pkg/headers"
)

// §  4.4.  Invalidating Stored Responses
// §
// §     Because unsafe request methods (Section 9.2.1 of [HTTP]) such as PUT,
// §     POST, or DELETE have the potential for changing state on the origin
// §     server, intervening caches are required to invalidate stored
// §     responses to keep their contents up to date.
// §
// §     A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when it
// §     receives a non-error status code in response to an unsafe request
// §     method (including methods whose safety is unknown).
// §
// §     A cache MAY invalidate other URIs when it receives a non-error status
// §     code in response to an unsafe request method (including methods whose
// §     safety is unknown).  In particular, the URIs in the Location and
// §     Content-Location response header fields (if present) are candidates
// §     for invalidation; other URIs might be discovered through mechanisms
// §     not specified in this document.  However, a cache MUST NOT trigger an
// §     invalidation under these conditions if the origin (Section 4.3.1 of
// §     [HTTP]) of the URI to be invalidated differs from that of the target
// §     URI (Section 7.1 of [HTTP]).  This helps prevent denial-of-service
// §     attacks.

// UnsafeMethod reports whether a request method is not known to be safe.
func UnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// GetInvalidateURIs returns the URIs whose stored responses are invalidated
// by the response to a request with the given method and target.
func GetInvalidateURIs(method string, target *url.URL, statusCode int, h headers.Headers) []*url.URL {
	if !UnsafeMethod(method) || statusCode < 200 || statusCode >= 400 {
		return nil
	}
	uris := []*url.URL{target}
	for _, name := range []string{"Location", "Content-Location"} {
		value, ok := h.Get(name)
		if !ok {
			continue
		}
		ref, err := url.Parse(value)
		if err != nil {
			continue
		}
		uri := target.ResolveReference(ref)
		if uri.Scheme == target.Scheme && uri.Host == target.Host {
			uris = append(uris, uri)
		}
	}
	return uris
}
