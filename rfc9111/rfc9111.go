// Package rfc9111 implements the parts of HTTP Caching (RFC 9111) that a
// client-side cache needs: parsing Cache-Control and HTTP dates, deriving
// expiration times from a stored response, building validation requests,
// and updating stored header fields after a 304 (Not Modified).
//
// Source files are named after the RFC sections they implement, and quote
// the relevant passages next to the code (lines starting with "§").
package rfc9111

import "errors"

// ErrMalformedHeaderValue is reported (and logged) when a header field value
// cannot be parsed. It never aborts a freshness calculation: the field is
// treated as absent.
var ErrMalformedHeaderValue = errors.New("malformed header value")
