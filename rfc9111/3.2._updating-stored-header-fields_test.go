package rfc9111

import (
	"reflect"
	"testing"

	"github.com/always-cache/netcache/pkg/headers"
)

func TestCombineHeadersFreshWins(t *testing.T) {
	stored := headers.Headers{
		{Name: "Content-Type", Value: "image/png"},
		{Name: "ETag", Value: "\"old\""},
		{Name: "X-Custom", Value: "a"},
		{Name: "Cache-Control", Value: "max-age=10"},
		{Name: "X-Custom", Value: "b"},
	}
	fresh := headers.Headers{
		{Name: "etag", Value: "\"new\""},
		{Name: "CACHE-CONTROL", Value: "max-age=60"},
	}
	combined := CombineHeaders(fresh, stored)
	want := headers.Headers{
		{Name: "etag", Value: "\"new\""},
		{Name: "CACHE-CONTROL", Value: "max-age=60"},
		{Name: "Content-Type", Value: "image/png"},
		{Name: "X-Custom", Value: "a"},
		{Name: "X-Custom", Value: "b"},
	}
	if !reflect.DeepEqual(combined, want) {
		t.Fatalf("Combined headers are %v", combined)
	}
	if len(stored) != 5 || stored[1].Value != "\"old\"" {
		t.Fatal("Stored headers were modified")
	}
}

func TestCombineHeadersEmptyFresh(t *testing.T) {
	stored := headers.Headers{{Name: "A", Value: "1"}}
	if combined := CombineHeaders(nil, stored); !reflect.DeepEqual(combined, stored) {
		t.Fatalf("Combined headers are %v", combined)
	}
}

func TestCombineHeadersNoDuplicateAcrossSources(t *testing.T) {
	stored := headers.Headers{{Name: "Content-Length", Value: "1024"}, {Name: "Date", Value: "old"}}
	fresh := headers.Headers{{Name: "content-length", Value: "0"}, {Name: "date", Value: "new"}}
	combined := CombineHeaders(fresh, stored)
	if len(combined) != 2 || combined.Value("Content-Length") != "0" || combined.Value("Date") != "new" {
		t.Fatalf("Combined headers are %v", combined)
	}
}

func TestStorableHeaders(t *testing.T) {
	h := headers.Headers{
		{Name: "Connection", Value: "close, X-Hop"},
		{Name: "X-Hop", Value: "1"},
		{Name: "Keep-Alive", Value: "timeout=5"},
		{Name: "Content-Type", Value: "text/plain"},
	}
	if storable := StorableHeaders(h); !reflect.DeepEqual(storable, headers.Headers{{Name: "Content-Type", Value: "text/plain"}}) {
		t.Fatalf("Storable headers are %v", storable)
	}
}
