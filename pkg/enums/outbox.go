package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregatePortfolio OutboxAggregateType = "portfolio"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePortfolio,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPlaced            OutboxEventType = "order_placed"
	EventOrderCanceled          OutboxEventType = "order_canceled"
	EventOrderFilled            OutboxEventType = "order_filled"
	EventFundsReserved          OutboxEventType = "funds_reserved"
	EventFundsReservationFailed OutboxEventType = "funds_reservation_failed"
	EventFundsReleased          OutboxEventType = "funds_released"
	EventOrderSettled           OutboxEventType = "order_settled"
)

var validEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderCanceled,
	EventOrderFilled,
	EventFundsReserved,
	EventFundsReservationFailed,
	EventFundsReleased,
	EventOrderSettled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxStatus tracks the publish lifecycle of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusPublished,
	OutboxStatusFailed,
}

// IsValid reports whether the value matches the canonical outbox_status enum.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
