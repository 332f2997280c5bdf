package rfc9111

import (
	"strings"

	"github.com/always-cache/netcache/pkg/headers"
)

// §  3.2.  Updating Stored Header Fields
// §
// §     Caches are required to update a stored response's header fields from
// §     another (typically newer) response in several situations; for
// §     example, see Sections 3.4, 4.3.4, and 4.3.5.
// §
// §     When doing so, the cache MUST add each header field in the provided
// §     response to the stored response, replacing field values that are
// §     already present, with the following exceptions:
// §
// §     *  Header fields excepted from storage in Section 3.1,
// §
// §     *  Header fields that the cache's stored response depends upon, as
// §        described below,
// §
// §     *  Header fields that are automatically processed and removed by the
// §        recipient, as described below, and
// §
// §     *  The Content-Length header field.
//
// Here fields of the new response always win, Content-Length included.

// CombineHeaders returns the header fields to store after a 304 (Not Modified)
// response: every field of the new response, followed by the stored fields
// whose names (compared case-insensitively) do not appear in the new response.
// Stored fields keep their original order.
//
// Neither argument is modified.
func CombineHeaders(fresh, stored headers.Headers) headers.Headers {
	freshNames := fresh.Names()
	combined := make(headers.Headers, 0, len(fresh)+len(stored))
	combined = append(combined, fresh...)
	for _, field := range stored {
		if _, replaced := freshNames[strings.ToLower(field.Name)]; !replaced {
			combined = append(combined, field)
		}
	}
	return combined
}
