package providers

import (
	"context"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// Args are the positional arguments of a routed operation
type Args []interface{}

// Result is what a provider operation returns
type Result struct {
	Value    interface{}  `json:"value"`
	Model    string       `json:"model,omitempty"`
	Usage    *types.Usage `json:"usage,omitempty"`
	Provider string       `json:"provider,omitempty"` // set by the router
}

// OperationFunc performs one logical operation against one provider
type OperationFunc func(ctx context.Context, args Args) (*Result, error)

// Provider is an LLM backend able to serve calendar operations
type Provider interface {
	Name() string
	Operations() map[string]OperationFunc
	HealthCheck(ctx context.Context) error
}

// StaticProvider is a Provider assembled from plain functions.
// It is used for local stubs and in tests.
type StaticProvider struct {
	ProviderName string
	Ops          map[string]OperationFunc
	Health       func(ctx context.Context) error
}

func (p *StaticProvider) Name() string {
	return p.ProviderName
}

func (p *StaticProvider) Operations() map[string]OperationFunc {
	return p.Ops
}

func (p *StaticProvider) HealthCheck(ctx context.Context) error {
	if p.Health == nil {
		return nil
	}
	return p.Health(ctx)
}

var _ Provider = (*StaticProvider)(nil)
