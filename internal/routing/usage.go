package routing

import (
	"sync"
	"time"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// UsageTracker keeps per-provider running totals. Memory grows with the
// number of operations, not with traffic.
type UsageTracker struct {
	mu    sync.Mutex
	stats map[string]*usageEntry
}

type usageEntry struct {
	stats      types.UsageStatistics
	successes  map[string]int64
	operations map[string]*types.OperationUsage
}

// NewUsageTracker creates an empty tracker
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{stats: make(map[string]*usageEntry)}
}

// Record adds one routed call to the provider's totals
func (u *UsageTracker) Record(provider, operation string, success bool, elapsed time.Duration, tokens int, at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.stats[provider]
	if !ok {
		e = &usageEntry{
			stats:      types.UsageStatistics{Provider: provider},
			successes:  make(map[string]int64),
			operations: make(map[string]*types.OperationUsage),
		}
		u.stats[provider] = e
	}

	ms := float64(elapsed.Milliseconds())

	s := &e.stats
	s.TotalRequests++
	if success {
		s.SuccessfulRequests++
	} else {
		s.FailedRequests++
	}
	s.TotalTokens += int64(tokens)
	s.AverageResponseTimeMs += (ms - s.AverageResponseTimeMs) / float64(s.TotalRequests)
	s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	s.LastUsed = at

	op, ok := e.operations[operation]
	if !ok {
		op = &types.OperationUsage{}
		e.operations[operation] = op
	}
	op.Requests++
	if success {
		e.successes[operation]++
	}
	op.TotalTokens += int64(tokens)
	op.AverageResponseTimeMs += (ms - op.AverageResponseTimeMs) / float64(op.Requests)
	op.SuccessRate = float64(e.successes[operation]) / float64(op.Requests)
}

// Snapshot returns a deep copy of every provider's statistics
func (u *UsageTracker) Snapshot() map[string]types.UsageStatistics {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]types.UsageStatistics, len(u.stats))
	for name, e := range u.stats {
		s := e.stats
		s.Operations = make(map[string]*types.OperationUsage, len(e.operations))
		for op, v := range e.operations {
			c := *v
			s.Operations[op] = &c
		}
		out[name] = s
	}
	return out
}
