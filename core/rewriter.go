package core

import "strings"

// UrlRewriter may rewrite the URL of a request before it is dispatched.
// Returning false blocks the request.
type UrlRewriter interface {
	RewriteUrl(url string) (string, bool)
}

// RewriteRule replaces the Prefix of matching URLs with Replace, or blocks them.
type RewriteRule struct {
	Prefix  string `yaml:"prefix"`
	Replace string `yaml:"replace"`
	Block   bool   `yaml:"block"`
}

// RewriteRules is a UrlRewriter applying the first rule whose prefix matches.
type RewriteRules []RewriteRule

func (r RewriteRules) RewriteUrl(url string) (string, bool) {
	for _, rule := range r {
		if !strings.HasPrefix(url, rule.Prefix) {
			continue
		}
		if rule.Block {
			return "", false
		}
		return rule.Replace + strings.TrimPrefix(url, rule.Prefix), true
	}
	return url, true
}
