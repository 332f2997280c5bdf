// Package headers implements an ordered list of HTTP header fields.
//
// Unlike http.Header, a Headers value keeps the order in which fields were
// received, which matters when stored headers are combined with the headers
// of a later 304 (Not Modified) response.
package headers

import (
	"net/http"
	"sort"
	"strings"
)

// DefaultCharset is the HTTP/1.1 default charset for text content.
const DefaultCharset = "ISO-8859-1"

// Header is a single header field line.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered list of header fields.
// Names are compared case-insensitively and may be repeated.
type Headers []Header

// Add appends a field to the end of the list.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set replaces all fields with the given name by a single field,
// appended to the end of the list.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes all fields with the given name.
// The underlying array is not modified, so copies of h are unaffected.
func (h *Headers) Del(name string) {
	kept := make(Headers, 0, len(*h))
	for _, field := range *h {
		if !strings.EqualFold(field.Name, name) {
			kept = append(kept, field)
		}
	}
	*h = kept
}

// Get returns the value of the last field with the given name,
// along with a boolean indicating whether the field was present.
func (h Headers) Get(name string) (string, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if strings.EqualFold(h[i].Name, name) {
			return h[i].Value, true
		}
	}
	return "", false
}

// Value returns the value of the last field with the given name,
// or an empty string if there is none.
func (h Headers) Value(name string) string {
	val, _ := h.Get(name)
	return val
}

// Values returns all values for the given name, in order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, field := range h {
		if strings.EqualFold(field.Name, name) {
			values = append(values, field.Value)
		}
	}
	return values
}

// Has reports whether at least one field with the given name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Clone returns a copy that does not share storage with h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	clone := make(Headers, len(h))
	copy(clone, h)
	return clone
}

// Names returns the set of field names present, lower-cased.
func (h Headers) Names() map[string]struct{} {
	names := make(map[string]struct{}, len(h))
	for _, field := range h {
		names[strings.ToLower(field.Name)] = struct{}{}
	}
	return names
}

// HTTP converts the list to an http.Header.
// Order is preserved within each name.
func (h Headers) HTTP() http.Header {
	header := make(http.Header, len(h))
	for _, field := range h {
		header.Add(field.Name, field.Value)
	}
	return header
}

// FromHTTP converts an http.Header to a list.
// Field names are sorted so that the result is deterministic.
func FromHTTP(header http.Header) Headers {
	if header == nil {
		return nil
	}
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	h := make(Headers, 0, len(header))
	for _, name := range names {
		for _, value := range header[name] {
			h = append(h, Header{Name: name, Value: value})
		}
	}
	return h
}

// ParseCharset returns the charset parameter of the Content-Type field,
// or defaultCharset if none can be found.
func ParseCharset(h Headers, defaultCharset string) string {
	contentType, ok := h.Get("Content-Type")
	if !ok {
		return defaultCharset
	}
	params := strings.Split(contentType, ";")
	for _, param := range params[1:] {
		name, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if found && strings.EqualFold(name, "charset") {
			return strings.Trim(value, "\"")
		}
	}
	return defaultCharset
}
