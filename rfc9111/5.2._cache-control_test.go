package rfc9111

import (
	"testing"
	"time"
)

func TestMaxAge(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=60"})
	val, ok := cc.Get("max-age")
	if !ok {
		t.Fatal("Could not get directive")
	}
	if val != "60" {
		t.Fatalf("Value is %s", val)
	}
	if maxAge, ok := cc.MaxAge(); !ok || maxAge != time.Minute {
		t.Fatalf("Max age is %v", maxAge)
	}
}

func TestReal(t *testing.T) {
	cc := ParseCacheControl([]string{"public, max-age=0, s-maxage=600"})
	if val, ok := cc.Get("public"); !ok || val != "" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("max-age"); !ok || val != "0" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("s-maxage"); !ok || val != "600" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
}

func TestWhitespaceAndCase(t *testing.T) {
	cc := ParseCacheControl([]string{"Public ,MAX-AGE=30,  Must-Revalidate"})
	if maxAge, ok := cc.MaxAge(); !ok || maxAge != 30*time.Second {
		t.Fatalf("Max age is %v", maxAge)
	}
	if !cc.MustRevalidate() {
		t.Fatal("must-revalidate not found")
	}
}

func TestQuotedArgument(t *testing.T) {
	cc := ParseCacheControl([]string{`max-age="120"`})
	if maxAge, ok := cc.MaxAge(); !ok || maxAge != 2*time.Minute {
		t.Fatalf("Max age is %v", maxAge)
	}
}

func TestLastValidDirectiveWins(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=10, max-age=20", "max-age=oops"})
	if maxAge, ok := cc.MaxAge(); !ok || maxAge != 20*time.Second {
		t.Fatalf("Max age is %v", maxAge)
	}
}

func TestMalformedMaxAgeIgnored(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=abc"})
	if _, ok := cc.MaxAge(); ok {
		t.Fatal("Malformed max-age should be ignored")
	}
	if !cc.HasDirective("max-age") {
		t.Fatal("Directive itself should still be present")
	}
}

func TestNoStore(t *testing.T) {
	for _, header := range []string{"no-store", "no-cache", "max-age=60, NO-CACHE", `no-cache="Set-Cookie"`} {
		if cc := ParseCacheControl([]string{header}); !cc.NoStore() {
			t.Fatalf("%q should not be stored", header)
		}
	}
	if cc := ParseCacheControl([]string{"public, max-age=60"}); cc.NoStore() {
		t.Fatal("Response should be storable")
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=60, stale-while-revalidate=30"})
	if swr, ok := cc.StaleWhileRevalidate(); !ok || swr != 30*time.Second {
		t.Fatalf("stale-while-revalidate is %v", swr)
	}
}

func TestProxyRevalidate(t *testing.T) {
	if cc := ParseCacheControl([]string{"proxy-revalidate"}); !cc.MustRevalidate() {
		t.Fatal("proxy-revalidate should count as must-revalidate")
	}
}
