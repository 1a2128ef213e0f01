// Package dispatch routes external gateway events to registered handlers so
// the payment-session producer and the ingestion consumer never import each
// other.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoHandler is returned when an event type has no registered handler.
var ErrNoHandler = errors.New("no handler registered for event type")

// HandlerFunc consumes one dispatched payload.
type HandlerFunc func(ctx context.Context, payload any) error

// Dispatcher is an in-process event router. Registration happens at wiring
// time; Dispatch is safe for concurrent use.
type Dispatcher struct {
	mutex    sync.RWMutex
	handlers map[string][]HandlerFunc
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: map[string][]HandlerFunc{}}
}

// Register appends a handler for an event type.
func (dispatcher *Dispatcher) Register(eventType string, handler HandlerFunc) {
	if handler == nil {
		return
	}
	dispatcher.mutex.Lock()
	defer dispatcher.mutex.Unlock()
	dispatcher.handlers[eventType] = append(dispatcher.handlers[eventType], handler)
}

// Dispatch delivers the payload to every handler for the event type,
// returning the first handler error.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, eventType string, payload any) error {
	dispatcher.mutex.RLock()
	handlers := dispatcher.handlers[eventType]
	dispatcher.mutex.RUnlock()
	if len(handlers) == 0 {
		return fmt.Errorf("%w: %q", ErrNoHandler, eventType)
	}
	for _, handler := range handlers {
		if err := handler(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}
