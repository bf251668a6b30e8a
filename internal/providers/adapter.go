package providers

import (
	"context"
	"fmt"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// Completion is the raw answer of a single model call
type Completion struct {
	Text  string
	Model string
	Usage *types.Usage
}

// CompleteFunc sends one prompt to a model
type CompleteFunc func(ctx context.Context, prompt *Prompt) (*Completion, error)

// PromptOperations builds the full calendar operation set on top of a
// single completion call. Provider adapters only differ in CompleteFunc.
func PromptOperations(complete CompleteFunc) map[string]OperationFunc {
	ops := make(map[string]OperationFunc, len(types.AllOperations))
	for _, op := range types.AllOperations {
		op := op
		ops[op] = func(ctx context.Context, args Args) (*Result, error) {
			prompt, err := BuildPrompt(op, args)
			if err != nil {
				return nil, err
			}
			completion, err := complete(ctx, prompt)
			if err != nil {
				return nil, err
			}
			value, err := ParseOutput(op, completion.Text)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return &Result{Value: value, Model: completion.Model, Usage: completion.Usage}, nil
		}
	}
	return ops
}
