package rfc9111

import (
	"time"

	"github.com/always-cache/netcache/pkg/headers"
)

// §  5.3.  Expires
// §
// §     The "Expires" response header field gives the date/time after which
// §     the response is considered stale.  See Section 4.2 for further
// §     discussion of the freshness model.
// §
// §       Expires = HTTP-date
// §
// §     For example
// §
// §     Expires: Thu, 01 Dec 1994 16:00:00 GMT
// §
// §     A cache recipient MUST interpret invalid date formats, especially the
// §     value "0", as representing a time in the past (i.e., "already
// §     expired").
// §
// §     If a response includes a Cache-Control header field with the max-age
// §     directive (Section 5.2.2.1), a recipient MUST ignore the Expires
// §     header field.

// getExpires returns the parsed Expires field, or the zero time if it is absent
// or invalid (zero is always in the past).
func getExpires(h headers.Headers) time.Time {
	return dateField(h, "Expires")
}

// dateField parses an HTTP-date header field.
// Invalid values are logged and yield the zero time.
func dateField(h headers.Headers, name string) time.Time {
	value, ok := h.Get(name)
	if !ok {
		return time.Time{}
	}
	date, err := HttpDate(value)
	if err != nil {
		logMalformedDate(name, value, err)
		return time.Time{}
	}
	return date
}
