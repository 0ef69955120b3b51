package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/registry"
)

// HandlerFunc executes one saga step inside the subscriber's transaction.
// Returned events are appended to the outbox in the same transaction, which
// is what makes each hop of the chain atomic.
type HandlerFunc func(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error)

// Registry maps event types to their step handler and versioned payload decoder.
type Registry struct {
	decoders *registry.DecoderRegistry
	handlers map[enums.OutboxEventType]HandlerFunc
}

// NewRegistry builds an empty saga step registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: registry.NewDecoderRegistry(),
		handlers: make(map[enums.OutboxEventType]HandlerFunc),
	}
}

// Register binds the handler and payload decoder for an event type at the
// given schema version.
func (r *Registry) Register(eventType enums.OutboxEventType, version int, decoder func(json.RawMessage) (interface{}, error), handler HandlerFunc) error {
	if !eventType.IsValid() {
		return fmt.Errorf("invalid event type %q", eventType)
	}
	if decoder == nil {
		return fmt.Errorf("decoder required for %s", eventType)
	}
	if handler == nil {
		return fmt.Errorf("handler required for %s", eventType)
	}
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("handler already registered for %s", eventType)
	}
	r.decoders.Register(eventType, version, decoder)
	r.handlers[eventType] = handler
	return nil
}

// Handles reports whether the registry knows the event type.
func (r *Registry) Handles(eventType enums.OutboxEventType) bool {
	_, ok := r.handlers[eventType]
	return ok
}

// Resolve decodes the payload and returns the handler for the event type.
func (r *Registry) Resolve(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (HandlerFunc, interface{}, error) {
	handler, ok := r.handlers[eventType]
	if !ok {
		return nil, nil, fmt.Errorf("no handler registered for %s", eventType)
	}
	payload, err := r.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, nil, err
	}
	return handler, payload, nil
}

// DecodeAs is a convenience for registering typed decoders.
func DecodeAs[T any]() func(json.RawMessage) (interface{}, error) {
	return func(data json.RawMessage) (interface{}, error) {
		payload := new(T)
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
