package job

import "context"

// Definition is a typed task handler registered under a task reference.
// T is the argument type (must be JSON-deserializable).
type Definition[T any] struct {
	// Ref is the task reference jobs use to select this handler.
	Ref string

	// Handler is the function that runs the task.
	Handler func(ctx context.Context, args T) error
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](ref string, handler func(ctx context.Context, args T) error) *Definition[T] {
	return &Definition[T]{
		Ref:     ref,
		Handler: handler,
	}
}
