// Package rfc9211 builds Cache-Status header field values (RFC 9211)
// describing how a cache handled a request.
package rfc9211

import (
	"fmt"
	"strings"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates how caches have
// §     handled that response and its corresponding request.
// §
// §     Its value is a List:
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the List represents a cache that has handled the
// §     request.  The first member represents the cache closest to the origin
// §     server, and the last member represents the cache closest to the user

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus collects the parameters of one Cache-Status list member.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// §  2.3.  The fwd-status Parameter
	FwdStatus int
	// §  2.4.  The ttl Parameter, in seconds
	TimeToLive int
	// §  2.5.  The stored Parameter
	Stored bool
	// §  2.7.  The detail Parameter
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// String formats the status as a list member for the cache with the given name.
func (cs CacheStatus) String(name string) string {
	var b strings.Builder
	b.WriteString(name)
	switch {
	case cs.Status == StatusHit:
		b.WriteString("; hit")
	case cs.FwdReason != "":
		fmt.Fprintf(&b, "; fwd=%s", cs.FwdReason)
	}
	if cs.FwdStatus != 0 {
		fmt.Fprintf(&b, "; fwd-status=%d", cs.FwdStatus)
	}
	if cs.TimeToLive != 0 {
		fmt.Fprintf(&b, "; ttl=%d", cs.TimeToLive)
	}
	if cs.Stored {
		b.WriteString("; stored")
	}
	if cs.Detail != "" {
		fmt.Fprintf(&b, "; detail=%q", cs.Detail)
	}
	return b.String()
}
