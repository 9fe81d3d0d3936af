// Package facilitator implements the payment validation and settlement
// core: scheme dispatch, the synchronous exact path, the escrow-deferred
// validator and the batch settler that drains the queue.
package facilitator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// SchemeHandler processes payments for one scheme tag. Each handler owns
// its own request and response contract; the registry only routes.
type SchemeHandler interface {
	Scheme() string
	Process(ctx context.Context, payload models.PaymentPayload) (interface{}, error)
}

// Registry dispatches payment payloads to scheme handlers by tag.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]SchemeHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]SchemeHandler),
	}
}

// Register adds a handler for its scheme tag, replacing any existing one.
func (r *Registry) Register(handler SchemeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handler.Scheme()] = handler
}

// Process routes the payload to the handler registered for its scheme.
func (r *Registry) Process(ctx context.Context, payload models.PaymentPayload) (interface{}, error) {
	r.mu.RLock()
	handler, ok := r.handlers[payload.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown payment scheme: %q", payload.Scheme)
	}
	return handler.Process(ctx, payload)
}

// Schemes returns the registered scheme tags in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.handlers))
	for scheme := range r.handlers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}
