// Package events provides a typed, synchronous in-process dispatcher.
//
// Handlers are registered explicitly at composition time and invoked in
// registration order for the event type they were registered under.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler reacts to one dispatched event.
type Handler[T any] func(ctx context.Context, event T) error

// Dispatcher maps event-type strings to ordered handler lists.
type Dispatcher[T any] struct {
	mu       sync.RWMutex
	handlers map[string][]Handler[T]
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{handlers: make(map[string][]Handler[T])}
}

// Register appends h to the handlers of eventType.
func (d *Dispatcher[T]) Register(eventType string, h Handler[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Has reports whether any handler is registered for eventType.
func (d *Dispatcher[T]) Has(eventType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType]) > 0
}

// Dispatch invokes every handler of eventType in registration order.
// A failing handler does not stop the ones after it; all failures are joined.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, eventType string, event T) error {
	d.mu.RLock()
	handlers := append([]Handler[T](nil), d.handlers[eventType]...)
	d.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", eventType, i, err))
		}
	}
	return errors.Join(errs...)
}
