package rfc9111

import (
	"net/url"
	"testing"

	"github.com/always-cache/netcache/pkg/headers"
)

func TestInvalidateURIs(t *testing.T) {
	target, _ := url.Parse("https://example.com/posts")
	h := headers.Headers{
		{Name: "Location", Value: "/posts/1"},
		{Name: "Content-Location", Value: "https://other.example.com/posts/1"},
	}
	uris := GetInvalidateURIs("POST", target, 201, h)
	if len(uris) != 2 {
		t.Fatalf("URIs are %v", uris)
	}
	if uris[0].String() != "https://example.com/posts" || uris[1].String() != "https://example.com/posts/1" {
		t.Fatalf("URIs are %v", uris)
	}
}

func TestNoInvalidationForSafeMethodsOrErrors(t *testing.T) {
	target, _ := url.Parse("https://example.com/posts")
	if uris := GetInvalidateURIs("GET", target, 200, nil); uris != nil {
		t.Fatalf("URIs are %v", uris)
	}
	if uris := GetInvalidateURIs("DELETE", target, 500, nil); uris != nil {
		t.Fatalf("URIs are %v", uris)
	}
	if uris := GetInvalidateURIs("PURGE", target, 204, nil); len(uris) != 1 {
		t.Fatalf("URIs are %v", uris)
	}
}
