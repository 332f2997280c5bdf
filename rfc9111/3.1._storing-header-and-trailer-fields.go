package rfc9111

import (
	"strings"

	"github.com/always-cache/netcache/pkg/headers"
)

// §  3.1.  Storing Header and Trailer Fields
// §
// §     Caches MUST include all received response header fields -- including
// §     unrecognized ones -- when storing a response; this assures that new
// §     HTTP header fields can be successfully deployed.  However, the
// §     following exceptions are made:
// §
// §     *  The Connection header field and fields whose names are listed in
// §        it are required by Section 7.6.1 of [HTTP] to be removed before
// §        forwarding the message.  This MAY be implemented by doing so
// §        before storage.
// §
// §     *  Likewise, some fields' semantics require them to be removed before
// §        forwarding the message, and this MAY be implemented by doing so
// §        before storage; see Section 7.6.1 of [HTTP] for some examples.

var hopByHopFields = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"TE",
	"Transfer-Encoding",
	"Upgrade",
}

// StorableHeaders returns the header fields of a response that are kept when
// storing it, i.e. without the hop-by-hop fields.
func StorableHeaders(h headers.Headers) headers.Headers {
	drop := make(map[string]struct{})
	for _, name := range GetListHeader(h, "Connection") {
		drop[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range hopByHopFields {
		drop[strings.ToLower(name)] = struct{}{}
	}
	storable := make(headers.Headers, 0, len(h))
	for _, field := range h {
		if _, ok := drop[strings.ToLower(field.Name)]; !ok {
			storable = append(storable, field)
		}
	}
	return storable
}

// GetListHeader splits all lines of a list-based field into their members.
func GetListHeader(h headers.Headers, field string) []string {
	list := make([]string, 0)
	for _, hdr := range h.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
