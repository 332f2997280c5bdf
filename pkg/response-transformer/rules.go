// Package responsetransformer adjusts origin response headers before the
// response is cached, according to configured rules.
package responsetransformer

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/netcache/pkg/headers"
	"github.com/rs/zerolog/log"
)

type Rules []Rule

// Rule matches requests by host, path and query. The first matching rule of
// a Rules list is applied.
type Rule struct {
	Host     string            `yaml:"host"`
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Method   string            `yaml:"method"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Apply applies the first rule matching the request to the headers of a
// response with the given status code.
func (r Rules) Apply(method string, u *url.URL, statusCode int, h *headers.Headers) {
	// only apply rules for successes
	if statusCode != http.StatusOK {
		return
	}
	// if rule found, apply to response
	if rule := r.find(method, u); rule != nil {
		applyRuleToHeaders(*rule, h)
	}
}

func applyRuleToHeaders(rule Rule, h *headers.Headers) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		h.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && h.Value("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		h.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		h.Set(name, value)
	}
}

func (r Rules) find(method string, u *url.URL) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", method, u)
rulesLoop:
	for _, rule := range r {
		if rule.Method == "" && method != http.MethodGet {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if rule.Host != "" && !strings.EqualFold(rule.Host, u.Host) {
			continue
		}
		if rule.Path != "" && rule.Path != u.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(u.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := u.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &rule
	}
	return nil
}
