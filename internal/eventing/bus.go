package eventing

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// ErrInvalidEventType is returned by handlers receiving an unexpected payload.
var ErrInvalidEventType = errors.New("eventing: invalid event type")

// EventHandler consumes one published event.
type EventHandler func(ctx context.Context, event any) error

// Bus is the in-process event bus: fan-out to subscribers in registration
// order, synchronously, on the publisher's goroutine. Handler errors stop the
// fan-out and surface to the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber of its type.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return errors.New("eventing: nil event")
	}
	eventType := typeName(reflect.TypeOf(event))

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// EventTypeOf resolves the subscription key for an event type.
func EventTypeOf[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}
