package route

import (
	"fmt"
	"net/http"
	"strings"
)

type Rules []Rule

// Rule forces a strategy for matching request paths.
// Rules are checked in order before the built-in classification.
type Rule struct {
	Prefix   string   `yaml:"prefix"`
	Path     string   `yaml:"path"`
	Strategy Strategy `yaml:"strategy"`
}

// Validate checks that every rule matches something and names a known strategy.
func (r Rules) Validate() error {
	for i, rule := range r {
		if rule.Prefix == "" && rule.Path == "" {
			return fmt.Errorf("rule %d: prefix or path is required", i)
		}
		switch rule.Strategy {
		case StrategyBypass, StrategyNetworkFirst, StrategyStaleWhileRevalidate, StrategyCacheFirst, StrategyCacheThenNetwork:
		default:
			return fmt.Errorf("rule %d: unknown strategy %q", i, rule.Strategy)
		}
	}
	return nil
}

// Strategy returns the strategy for the request,
// using the first matching rule or the built-in classification.
func (r Rules) Strategy(req *http.Request) Strategy {
	if rule := r.find(req); rule != nil {
		return rule.Strategy
	}
	return Classify(req)
}

func (r Rules) find(req *http.Request) *Rule {
	for i := range r {
		rule := &r[i]
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		return rule
	}
	return nil
}
