// Package handler defines the per-kind discovery and deletion strategy and
// the static registry that resolves a kind to its handler.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// Handler discovers and deletes resources of one kind.
type Handler interface {
	// Kind returns the resource kind this handler owns.
	Kind() resource.Kind

	// Discover lists every live resource of this kind in scope.
	// Zero resources is an empty slice, not an error.
	Discover(ctx context.Context, scope resource.Scope) ([]resource.Descriptor, error)

	// Delete removes one resource, resolving its preconditions first.
	// It runs synchronously and never retries.
	Delete(ctx context.Context, id string) error
}

// Registry maps each kind to exactly one handler. It is built once per run
// and read-only afterwards.
type Registry struct {
	handlers map[resource.Kind]Handler
}

// NewRegistry builds a registry. Handlers for unknown kinds or duplicate
// kinds are rejected.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[resource.Kind]Handler, len(handlers))}
	for _, h := range handlers {
		k := h.Kind()
		if !k.Valid() {
			return nil, fmt.Errorf("register handler: %w: %q", resource.ErrUnsupportedKind, k)
		}
		if _, dup := r.handlers[k]; dup {
			return nil, fmt.Errorf("register handler: duplicate handler for %s", k)
		}
		r.handlers[k] = h
	}
	return r, nil
}

// Lookup returns the handler for k, or an error wrapping
// resource.ErrUnsupportedKind.
func (r *Registry) Lookup(k resource.Kind) (Handler, error) {
	h, ok := r.handlers[k]
	if !ok {
		return nil, fmt.Errorf("%w: no handler for %q", resource.ErrUnsupportedKind, k)
	}
	return h, nil
}

// Kinds returns the registered kinds in declaration order.
func (r *Registry) Kinds() []resource.Kind {
	var kinds []resource.Kind
	for _, k := range resource.AllKinds() {
		if _, ok := r.handlers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// All returns the registered handlers in declaration order.
func (r *Registry) All() []Handler {
	var out []Handler
	for _, k := range r.Kinds() {
		out = append(out, r.handlers[k])
	}
	return out
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Invoke runs one delete through h and converts the outcome into a result.
// A panic inside the handler is captured as a failure.
func Invoke(ctx context.Context, h Handler, id string) (result resource.DeletionResult) {
	start := time.Now()
	kind := h.Kind()

	defer func() {
		if rec := recover(); rec != nil {
			result = resource.Failed(kind, id, fmt.Errorf("handler panic: %v", rec))
		}
		result.Duration = time.Since(start)
	}()

	if err := h.Delete(ctx, id); err != nil {
		return resource.Failed(kind, id, err)
	}
	return resource.Deleted(kind, id)
}
