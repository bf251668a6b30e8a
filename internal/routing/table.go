package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// RoutingRule says which provider serves an operation and where it falls back to
type RoutingRule struct {
	Primary         string        `yaml:"primary" json:"primary"`
	Fallback        string        `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	FallbackEnabled bool          `yaml:"fallback_enabled" json:"fallback_enabled"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// HasFallback reports whether a usable fallback is configured
func (r RoutingRule) HasFallback() bool {
	return r.FallbackEnabled && r.Fallback != "" && r.Fallback != r.Primary
}

// RoutingTable is the immutable operation to rule mapping
type RoutingTable struct {
	rules map[string]RoutingRule
}

// DefaultRoutingRules returns the stock table: structured extraction on
// OpenAI, long-form writing on Anthropic, each falling back to the other.
func DefaultRoutingRules() map[string]RoutingRule {
	return map[string]RoutingRule{
		types.OperationTitles: {
			Primary: "openai", Fallback: "anthropic", FallbackEnabled: true, Timeout: 15 * time.Second,
		},
		types.OperationAgenda: {
			Primary: "anthropic", Fallback: "openai", FallbackEnabled: true, Timeout: 30 * time.Second,
		},
		types.OperationExtractMeeting: {
			Primary: "openai", Fallback: "anthropic", FallbackEnabled: true, Timeout: 20 * time.Second,
		},
		types.OperationChat: {
			Primary: "anthropic", Fallback: "openai", FallbackEnabled: true, Timeout: 30 * time.Second,
		},
	}
}

// NewRoutingTable validates and copies rules
func NewRoutingTable(rules map[string]RoutingRule) (*RoutingTable, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("routing table has no rules")
	}

	copied := make(map[string]RoutingRule, len(rules))
	for op, rule := range rules {
		if rule.Primary == "" {
			return nil, fmt.Errorf("routing rule for %s has no primary provider", op)
		}
		if rule.Timeout < 0 {
			return nil, fmt.Errorf("routing rule for %s has a negative timeout", op)
		}
		copied[op] = rule
	}
	return &RoutingTable{rules: copied}, nil
}

// Rule returns the rule for operation
func (t *RoutingTable) Rule(operation string) (RoutingRule, bool) {
	rule, ok := t.rules[operation]
	return rule, ok
}

// Operations returns the routed operation names in sorted order
func (t *RoutingTable) Operations() []string {
	ops := make([]string, 0, len(t.rules))
	for op := range t.rules {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Rules returns a copy of every rule
func (t *RoutingTable) Rules() map[string]RoutingRule {
	out := make(map[string]RoutingRule, len(t.rules))
	for op, rule := range t.rules {
		out[op] = rule
	}
	return out
}

// Resolve rewrites the table for the providers that are actually
// configured. A rule whose primary is missing is served by its fallback
// with fallback disabled; a rule with neither is an error.
func (t *RoutingTable) Resolve(available func(provider string) bool, logger *logrus.Logger) (*RoutingTable, []string, error) {
	resolved := make(map[string]RoutingRule, len(t.rules))
	var warnings []string

	for _, op := range t.Operations() {
		rule := t.rules[op]

		if available(rule.Primary) {
			if rule.Fallback != "" && !available(rule.Fallback) {
				rule.FallbackEnabled = false
				warnings = append(warnings, fmt.Sprintf("fallback %s for %s is not configured, fallback disabled", rule.Fallback, op))
			}
			resolved[op] = rule
			continue
		}

		if rule.Fallback == "" || !available(rule.Fallback) {
			return nil, warnings, fmt.Errorf("no configured provider for operation %s (primary %s, fallback %q)", op, rule.Primary, rule.Fallback)
		}

		warnings = append(warnings, fmt.Sprintf("primary %s for %s is not configured, using %s", rule.Primary, op, rule.Fallback))
		resolved[op] = RoutingRule{
			Primary:         rule.Fallback,
			Fallback:        "",
			FallbackEnabled: false,
			Timeout:         rule.Timeout,
		}
	}

	for _, w := range warnings {
		logger.Warn(w)
	}

	return &RoutingTable{rules: resolved}, warnings, nil
}
