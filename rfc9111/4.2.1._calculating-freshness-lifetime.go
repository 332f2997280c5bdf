package rfc9111

import (
	"time"

	"github.com/always-cache/netcache/pkg/headers"
	"github.com/rs/zerolog/log"
)

// Freshness holds the caching metadata derived from a set of response headers.
// Zero times mean the corresponding value was absent (or invalid).
type Freshness struct {
	// Time after which the response should be revalidated,
	// but may still be used while revalidating.
	SoftExpires time.Time
	// Time after which the response must not be used without revalidation.
	HardExpires time.Time
	// Value of the Date field.
	Date time.Time
	// Value of the Last-Modified field.
	LastModified time.Time
	// Value of the ETag field, verbatim.
	ETag string
}

// GetFreshness derives the expiration times and validators of a response
// received at `now`.
// The boolean is false if the response must not be stored (no-cache / no-store),
// in which case the returned Freshness is empty.
//
// Both expiration times are zero if the response carries no explicit
// freshness information. Such a response is still storable, but must always be
// revalidated before reuse.
func GetFreshness(h headers.Headers, now time.Time) (Freshness, bool) {
	var f Freshness

	f.Date = dateField(h, "Date")

	ccValues := h.Values("Cache-Control")
	cc := ParseCacheControl(ccValues)
	if cc.NoStore() {
		return Freshness{}, false
	}

	expires := getExpires(h)
	f.LastModified = dateField(h, "Last-Modified")
	f.ETag, _ = h.Get("ETag")

	// §  4.2.1.  Calculating Freshness Lifetime
	// §
	// §     *  If the max-age response directive (Section 5.2.2.1) is present,
	// §        use its value, or
	// §
	// §     *  If the Expires response header field (Section 5.3) is present, use
	// §        its value minus the value of the Date response header field [...]
	// §
	// §     *  Otherwise, no explicit expiration time is present in the response.
	//
	// Cache-Control takes precedence over Expires even if max-age itself is
	// missing, and even if Expires is more restrictive.
	if len(ccValues) > 0 {
		maxAge, _ := cc.MaxAge()
		f.SoftExpires = now.Add(maxAge)
		if cc.MustRevalidate() {
			f.HardExpires = f.SoftExpires
		} else {
			grace, _ := cc.StaleWhileRevalidate()
			f.HardExpires = f.SoftExpires.Add(grace)
		}
	} else if !f.Date.IsZero() && !expires.Before(f.Date) {
		// §  Note that this calculation is intended to reduce clock skew by using
		// §  the clock information provided by the origin server whenever
		// §  possible.
		f.SoftExpires = now.Add(expires.Sub(f.Date))
		f.HardExpires = f.SoftExpires
	}

	return f, true
}

// logMalformedDate logs an unparseable date field.
// "0" and "-1" are common enough in Expires to only be worth a trace line.
func logMalformedDate(name, value string, err error) {
	evt := log.Warn()
	if value == "0" || value == "-1" {
		evt = log.Trace()
	}
	evt.Err(err).Str("field", name).Msg("Unable to parse date, falling back to 0")
}
