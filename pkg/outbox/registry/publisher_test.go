package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avelarlabs/brokerage-backend/pkg/config"
	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	orderID := uuid.New()
	accountID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.FundsReservedEvent{
		OrderID:     orderID,
		AccountID:   accountID,
		PortfolioID: uuid.New(),
		AmountCents: 125_00,
		ReservedAt:  time.Now().UTC(),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventFundsReserved,
		AggregateType: enums.AggregatePortfolio,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, orderID, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "portfolio-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	if resolved.Descriptor.EventType != enums.EventFundsReserved {
		t.Fatalf("unexpected event type %s", resolved.Descriptor.EventType)
	}
	payload, ok := resolved.Payload.(*payloads.FundsReservedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderID != orderID || payload.AccountID != accountID {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.CorrelationID != orderID.String() {
		t.Fatalf("unexpected correlation id %q", resolved.Envelope.CorrelationID)
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryResolveOrderPlacedTopic(t *testing.T) {
	reg := newTestEventRegistry(t)

	orderID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.OrderPlacedEvent{
		OrderID:     orderID,
		AccountID:   uuid.New(),
		Symbol:      "ACME",
		Side:        enums.OrderSideBuy,
		AmountCents: 1000_00,
		Currency:    enums.CurrencyUSD,
		PlacedAt:    time.Now().UTC(),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       mustEnvelope(t, orderID, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "orders-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("order_vaporized"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, uuid.New(), []byte(`{"reason":"none"}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventFundsReserved,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, uuid.New(), []byte(`{}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.Nil,
		Payload:       mustEnvelope(t, uuid.New(), []byte(`{}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestEventRegistryResolveMissingCorrelationID(t *testing.T) {
	reg := newTestEventRegistry(t)

	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       []byte(`{}`),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       data,
	}

	_, err = reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestEventRegistryResolveNullPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, uuid.New(), []byte("null")),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	cfg := config.PubSubConfig{
		OrdersTopic:    "orders-topic",
		PortfolioTopic: "portfolio-topic",
	}
	reg, err := NewEventRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, correlationID uuid.UUID, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:       1,
		EventID:       uuid.NewString(),
		CorrelationID: correlationID.String(),
		OccurredAt:    time.Now().UTC(),
		Data:          payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
