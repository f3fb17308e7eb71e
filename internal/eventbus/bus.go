package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

var (
	ErrNilEvent         = errors.New("eventbus: nil event")
	ErrInvalidEventType = errors.New("eventbus: invalid event type")
	ErrHandlerPanic     = errors.New("eventbus: handler panicked")
)

// InMemoryBus dispatches synchronously on the publisher's goroutine, in
// subscription order. A failing or panicking handler does not stop the others.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]EventHandler)}
}

// Publish runs every handler registered for the event's type and joins
// their errors.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	eventType := EventType(event)
	if eventType == "" {
		if event == nil {
			return ErrNilEvent
		}
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := dispatch(ctx, handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for an event type. Empty types and nil
// handlers are ignored.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Copy on write: Publish iterates a snapshot without the lock.
	current := b.handlers[eventType]
	next := make([]EventHandler, len(current), len(current)+1)
	copy(next, current)
	b.handlers[eventType] = append(next, handler)
}

// Handlers returns how many handlers are registered for eventType.
func (b *InMemoryBus) Handlers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func dispatch(ctx context.Context, handler EventHandler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(ctx, event)
}

// EventType names the dynamic type of event, dereferencing pointers.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf names T the way EventType names a value of T.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
