// Package cache holds stored responses together with the freshness metadata
// derived from their headers, and the providers that persist them.
package cache

import (
	"errors"
	"net/http"
	"time"

	"github.com/always-cache/netcache/pkg/headers"
	"github.com/always-cache/netcache/rfc9111"
)

// ErrMissingHeaders is returned when an entry is requested for a response
// without any header fields.
var ErrMissingHeaders = errors.New("response has no headers")

// Entry is a stored response.
// Entries are never modified once created; a revalidation produces a new one.
// Zero times mean the value was absent.
type Entry struct {
	Payload      []byte          `json:"payload"`
	ETag         string          `json:"etag,omitempty"`
	SoftExpires  time.Time       `json:"softExpires"`
	HardExpires  time.Time       `json:"hardExpires"`
	ServerDate   time.Time       `json:"serverDate"`
	LastModified time.Time       `json:"lastModified"`
	Headers      headers.Headers `json:"headers"`
}

// NewEntry creates the entry for a response with header fields h and body
// payload, received at now.
// It returns nil (and no error) if the response must not be stored.
func NewEntry(h headers.Headers, payload []byte, now time.Time) (*Entry, error) {
	if len(h) == 0 {
		return nil, ErrMissingHeaders
	}
	f, ok := rfc9111.GetFreshness(h, now)
	if !ok {
		return nil, nil
	}
	return &Entry{
		Payload:      payload,
		ETag:         f.ETag,
		SoftExpires:  f.SoftExpires,
		HardExpires:  f.HardExpires,
		ServerDate:   f.Date,
		LastModified: f.LastModified,
		Headers:      h.Clone(),
	}, nil
}

// IsExpired reports whether the entry may no longer be used without
// revalidation. Entries without an expiry are always expired.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.HardExpires.Before(now)
}

// RefreshNeeded reports whether the entry should be revalidated.
// An entry that needs a refresh but is not expired may still be served.
func (e *Entry) RefreshNeeded(now time.Time) bool {
	return e.SoftExpires.Before(now)
}

// ConditionalHeaders returns the precondition fields for revalidating the entry.
// A nil entry yields an empty header.
func (e *Entry) ConditionalHeaders() http.Header {
	if e == nil {
		return make(http.Header)
	}
	return rfc9111.ValidationHeaders(e.ETag, e.LastModified)
}

// Refresh returns the entry resulting from a 304 (Not Modified) response with
// header fields fresh, received at now. The payload is kept.
// It returns nil if the combined fields forbid storing the response.
func (e *Entry) Refresh(fresh headers.Headers, now time.Time) (*Entry, error) {
	return NewEntry(rfc9111.CombineHeaders(fresh, e.Headers), e.Payload, now)
}
