// Package router resolves a model identifier to the adapter that serves it.
package router

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/DukeRupert/fiesta/internal/provider"
)

// Rule routes every model whose folded name contains one of Keywords.
type Rule struct {
	Keywords []string
	Adapter  provider.Adapter
}

// Router evaluates rules in order and falls through to a default adapter,
// so every model string resolves. Safe for concurrent use; it is immutable
// after construction.
type Router struct {
	rules    []Rule
	fallback provider.Adapter
}

// New creates a router. Rules are evaluated in the given order.
func New(fallback provider.Adapter, rules ...Rule) *Router {
	folded := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		kws := make([]string, len(rule.Keywords))
		for i, kw := range rule.Keywords {
			kws[i] = fold(kw)
		}
		folded = append(folded, Rule{Keywords: kws, Adapter: rule.Adapter})
	}
	return &Router{rules: folded, fallback: fallback}
}

// Set holds one adapter per supported provider.
type Set struct {
	OpenAI     provider.Adapter
	Anthropic  provider.Adapter
	Gemini     provider.Adapter
	Grok       provider.Adapter
	Perplexity provider.Adapter
	Mock       provider.Adapter
}

// Default builds the standard rule table: gpt/o1/openai, claude, gemini,
// grok, perplexity/sonar, in that priority, then the mock adapter.
func Default(set Set) *Router {
	return New(set.Mock,
		Rule{Keywords: []string{"gpt", "o1", "openai"}, Adapter: set.OpenAI},
		Rule{Keywords: []string{"claude"}, Adapter: set.Anthropic},
		Rule{Keywords: []string{"gemini"}, Adapter: set.Gemini},
		Rule{Keywords: []string{"grok"}, Adapter: set.Grok},
		Rule{Keywords: []string{"perplexity", "sonar"}, Adapter: set.Perplexity},
	)
}

// Select returns the adapter for model. It never returns nil when the
// router was built with a non-nil fallback.
func (r *Router) Select(model string) provider.Adapter {
	m := fold(model)
	for _, rule := range r.rules {
		if rule.Adapter == nil {
			continue
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(m, kw) {
				return rule.Adapter
			}
		}
	}
	return r.fallback
}

// Adapters lists the distinct adapters the router can return, rules first.
func (r *Router) Adapters() []provider.Adapter {
	seen := make(map[string]bool)
	var out []provider.Adapter
	add := func(a provider.Adapter) {
		if a == nil || seen[a.Name()] {
			return
		}
		seen[a.Name()] = true
		out = append(out, a)
	}
	for _, rule := range r.rules {
		add(rule.Adapter)
	}
	add(r.fallback)
	return out
}

// fold applies Unicode case folding. A Caser is stateful, so one is made
// per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
