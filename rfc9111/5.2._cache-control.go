package rfc9111

import (
	"strings"
	"time"
)

// §  5.2.  Cache-Control
// §
// §     The "Cache-Control" header field is used to list directives for
// §     caches along the request/response chain.  Cache directives are
// §     unidirectional, in that the presence of a directive in a request does
// §     not imply that the same directive is present or copied in the
// §     response.
// §
// §     Cache directives are identified by a token, to be compared case-
// §     insensitively, and have an optional argument that can use both token
// §     and quoted-string syntax.  For the directives defined below that
// §     define arguments, recipients ought to accept both forms, even if a
// §     specific form is required for generation.
// §
// §       Cache-Control   = #cache-directive
// §
// §       cache-directive = token [ "=" ( token / quoted-string ) ]

// CacheControl implements parsing of the "Cache-Control" header (/field).
type CacheControl struct {
	directives map[string]string
	// delta-seconds arguments that parsed successfully, last valid one wins
	seconds map[string]time.Duration
}

// Get returns the value (/argument) of the specified directive,
// along with a boolean indicating whether this directive is present
func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[strings.ToLower(directive)]
	return val, ok
}

// HasDirective returns whether the specified directive is present
func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	cc := CacheControl{
		directives: make(map[string]string),
		seconds:    make(map[string]time.Duration),
	}
	// process all headers
	// note setting map values like this means last defined directive wins
	for _, header := range headers {
		// process directives "#" means comma-separated list
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			name = getCacheControlDirectiveName(name)
			arg = getCacheControlDirectiveArgument(arg)
			cc.directives[name] = arg
			if secs, ok := deltaSeconds(arg); ok {
				cc.seconds[name] = secs
			}
		}
	}
	return cc
}

// getCacheControlDirectiveName returns a normalized name for the given directive.
func getCacheControlDirectiveName(token string) string {
	// §  [...] to be compared case-insensitively [...]
	return strings.ToLower(strings.TrimSpace(token))
}

// getCacheControlDirectiveArgument returns the directive argument in token form,
// i.e. it converts the argument from "quoted-string" to "token" form if needed.
func getCacheControlDirectiveArgument(arg string) string {
	// §  [...] argument that can use both token and quoted-string syntax. [...]
	return strings.Trim(strings.TrimSpace(arg), "\"")
}

// getDeltaSeconds returns the last valid "delta-seconds" argument of a directive,
// as well as a boolean indicating whether one was found.
//
// Examples:
// directive      -> 0,  false
// directive=0    -> 0,  true
// directive=60   -> 60, true
// directive=abc  -> 0,  false
func (c CacheControl) getDeltaSeconds(directive string) (time.Duration, bool) {
	secs, ok := c.seconds[directive]
	return secs, ok
}

// §  5.2.2.  Response Directives
// §
// §  5.2.2.1.  max-age
// §
// §     Argument syntax:
// §
// §        delta-seconds (see Section 1.2.2)
// §
// §     The max-age response directive indicates that the response is to be
// §     considered stale after its age is greater than the specified number
// §     of seconds.

// MaxAge returns "max-age" as a duration, along with a boolean indicating
// whether a valid "max-age" directive was present.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("max-age")
}

// §  5.2.2.2.  must-revalidate
// §
// §     The must-revalidate response directive indicates that once the
// §     response has become stale, a cache MUST NOT reuse that response to
// §     satisfy another request until it has been successfully validated by
// §     the origin, as defined by Section 4.3.

// §  5.2.2.8.  proxy-revalidate
// §
// §     The proxy-revalidate response directive indicates that shared caches
// §     MUST NOT use the response after it becomes stale to satisfy another
// §     request without successful validation.

// MustRevalidate reports whether "must-revalidate" or "proxy-revalidate" is present.
func (c CacheControl) MustRevalidate() bool {
	return c.HasDirective("must-revalidate") || c.HasDirective("proxy-revalidate")
}

// §  5.2.2.4.  no-cache
// §
// §     The no-cache response directive, in its unqualified form (without an
// §     argument), indicates that the response MUST NOT be used to satisfy
// §     any other request without forwarding it for validation and receiving
// §     a successful response; see Section 4.3.

// §  5.2.2.5.  no-store
// §
// §     The no-store response directive indicates that a cache MUST NOT store
// §     any part of either the immediate request or the response, even if
// §     the cache is private.

// NoStore reports whether the response must not be kept in the cache at all.
// A client cache does not distinguish between no-cache and no-store,
// qualified no-cache included.
func (c CacheControl) NoStore() bool {
	return c.HasDirective("no-store") || c.HasDirective("no-cache")
}

// §  RFC 5861, 3.  The stale-while-revalidate Cache-Control Extension
// §
// §     When present in an HTTP response, the stale-while-revalidate Cache-
// §     Control extension indicates that caches MAY serve the response in
// §     which it appears after it becomes stale, up to the indicated number
// §     of seconds.
// §
// §       stale-while-revalidate = "stale-while-revalidate" "=" delta-seconds

// StaleWhileRevalidate returns the "stale-while-revalidate" grace window.
func (c CacheControl) StaleWhileRevalidate() (time.Duration, bool) {
	return c.getDeltaSeconds("stale-while-revalidate")
}
