package routing

import (
	"time"
)

// RoutingDecision is the plan made for one request before any attempt
type RoutingDecision struct {
	Operation string `json:"operation"`

	// Provider tried first, and the rule's primary (they differ when forced)
	Target  string `json:"target"`
	Primary string `json:"primary"`

	// Fallback provider, empty when the rule has none
	Fallback string `json:"fallback,omitempty"`

	Forced          bool          `json:"forced"`
	FallbackAllowed bool          `json:"fallback_allowed"`
	Timeout         time.Duration `json:"timeout"`

	// Human-readable reasoning for the decision
	Reasoning []string `json:"reasoning"`
}

// decide combines a rule with the caller's overrides
func decide(operation string, rule RoutingRule, opts *RequestOptions) *RoutingDecision {
	d := &RoutingDecision{
		Operation: operation,
		Target:    rule.Primary,
		Primary:   rule.Primary,
		Timeout:   rule.Timeout,
	}
	if rule.HasFallback() {
		d.Fallback = rule.Fallback
	}

	if opts != nil && opts.ForceProvider != "" {
		d.Target = opts.ForceProvider
		d.Forced = true
		d.Reasoning = append(d.Reasoning, "provider forced by caller")
	} else {
		d.Reasoning = append(d.Reasoning, "primary from routing table")
	}
	if opts != nil && opts.Timeout > 0 {
		d.Timeout = opts.Timeout
		d.Reasoning = append(d.Reasoning, "timeout overridden by caller")
	}

	d.FallbackAllowed = fallbackAllowed(rule, opts)
	if d.Fallback != "" && !d.FallbackAllowed {
		d.Reasoning = append(d.Reasoning, "fallback disabled for this request")
	}
	return d
}

func (d *RoutingDecision) metadata() map[string]interface{} {
	return map[string]interface{}{
		"target":           d.Target,
		"forced":           d.Forced,
		"fallback_allowed": d.FallbackAllowed,
		"timeout_ms":       d.Timeout.Milliseconds(),
		"reasoning":        d.Reasoning,
	}
}

// fallbackAllowed is the request-level half of the fallback decision; the
// error type decides the rest.
func fallbackAllowed(rule RoutingRule, opts *RequestOptions) bool {
	if !rule.HasFallback() {
		return false
	}
	if opts == nil {
		return true
	}
	if opts.ForceProvider != "" {
		return false
	}
	return opts.EnableFallback == nil || *opts.EnableFallback
}
