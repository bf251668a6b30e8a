package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// ErrUnknownOperation is returned for operation names no provider implements
var ErrUnknownOperation = errors.New("unknown operation")

// ErrInvalidInput marks operation arguments that do not fit the operation.
// Such calls never reach a provider.
var ErrInvalidInput = errors.New("invalid operation input")

type decoder func(raw json.RawMessage) (interface{}, error)

func decodeInto[T any](validate func(*T) error) decoder {
	return func(raw json.RawMessage) (interface{}, error) {
		var in T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("invalid input: %w", err)
			}
		}
		if validate != nil {
			if err := validate(&in); err != nil {
				return nil, err
			}
		}
		return &in, nil
	}
}

var decoders = map[string]decoder{
	types.OperationTitles: decodeInto(func(in *types.TitlesInput) error {
		if strings.TrimSpace(in.Description) == "" {
			return errors.New("description is required")
		}
		if in.Count <= 0 {
			in.Count = 3
		}
		return nil
	}),
	types.OperationAgenda: decodeInto(func(in *types.AgendaInput) error {
		if strings.TrimSpace(in.Title) == "" {
			return errors.New("title is required")
		}
		return nil
	}),
	types.OperationExtractMeeting: decodeInto(func(in *types.ExtractInput) error {
		if strings.TrimSpace(in.Text) == "" {
			return errors.New("text is required")
		}
		return nil
	}),
	types.OperationChat: decodeInto(func(in *types.ChatInput) error {
		if len(in.Messages) == 0 {
			return errors.New("at least one message is required")
		}
		return nil
	}),
}

// IsKnownOperation reports whether op is one of the calendar operations
func IsKnownOperation(op string) bool {
	_, ok := decoders[op]
	return ok
}

// DecodeArgs turns the JSON input of an HTTP request into routed Args
func DecodeArgs(op string, raw json.RawMessage) (Args, error) {
	dec, ok := decoders[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	in, err := dec(raw)
	if err != nil {
		return nil, err
	}
	return Args{in}, nil
}

// InputFromArgs extracts the typed input passed as the first argument.
// Both T and *T are accepted.
func InputFromArgs[T any](args Args) (*T, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing", ErrInvalidInput)
	}
	switch v := args[0].(type) {
	case *T:
		if v == nil {
			return nil, fmt.Errorf("%w: nil", ErrInvalidInput)
		}
		return v, nil
	case T:
		return &v, nil
	default:
		var zero T
		return nil, fmt.Errorf("%w: unexpected type %T, want %T", ErrInvalidInput, args[0], zero)
	}
}
