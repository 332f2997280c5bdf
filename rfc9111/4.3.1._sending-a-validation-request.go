package rfc9111

import (
	"net/http"
	"time"
)

// §  4.3.1.  Sending a Validation Request
// §
// §     When generating a conditional request for validation, a cache either
// §     starts with a request it is attempting to satisfy or -- if it is
// §     initiating the request independently -- synthesizes a request using a
// §     stored response by copying the method, target URI, and request header
// §     fields identified by the Vary header field (Section 4.1).
// §
// §     It then updates that request with one or more precondition header
// §     fields.  These contain validator metadata sourced from a stored
// §     response(s) that has the same URI.
// §
// §     When generating a conditional request for validation, a cache:
// §
// §     *  MUST send the relevant entity tags (using If-Match, If-None-Match,
// §        or If-Range) if the entity tags were provided in the stored
// §        response(s) being validated.
// §
// §     *  SHOULD send the Last-Modified value (using If-Modified-Since) if
// §        the request is not for a subrange, a single stored response is
// §        being validated, and that response contains a Last-Modified value.
// §
// §     In most cases, both validators are generated in cache validation
// §     requests, even when entity tags are clearly superior, to allow old
// §     intermediaries that do not understand entity tag preconditions to
// §     respond appropriately.

// ValidationHeaders returns the precondition header fields for validating a
// stored response with the given validators.
// An empty etag or a zero lastModified means the validator is absent.
// The returned header is never nil.
func ValidationHeaders(etag string, lastModified time.Time) http.Header {
	header := make(http.Header)
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	if !lastModified.IsZero() {
		header.Set("If-Modified-Since", ToHttpDate(lastModified))
	}
	return header
}
