package providers

import (
	"sort"
	"sync"
)

// Registry maps provider name and operation name to an OperationFunc.
// It is populated at startup and read on every routed request.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	operations map[string]map[string]OperationFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers:  make(map[string]Provider),
		operations: make(map[string]map[string]OperationFunc),
	}
}

// Register adds a provider and every operation it exposes
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	r.providers[name] = provider
	if r.operations[name] == nil {
		r.operations[name] = make(map[string]OperationFunc)
	}
	for op, fn := range provider.Operations() {
		r.operations[name][op] = fn
	}
}

// RegisterOperation adds or replaces a single operation for a provider
func (r *Registry) RegisterOperation(provider, operation string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.operations[provider] == nil {
		r.operations[provider] = make(map[string]OperationFunc)
	}
	r.operations[provider][operation] = fn
}

// Lookup returns the implementation of operation for provider
func (r *Registry) Lookup(provider, operation string) (OperationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops, ok := r.operations[provider]
	if !ok {
		return nil, false
	}
	fn, ok := ops[operation]
	return fn, ok
}

// Provider returns a registered provider by name
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Has reports whether any operation is registered for provider
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.operations[name]
	return ok
}

// ProviderNames returns registered provider names in sorted order
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
