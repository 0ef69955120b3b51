package enums

import "fmt"

// OrderStatus maps to the order_status enum in Postgres.
type OrderStatus string

const (
	OrderStatusPendingNew OrderStatus = "pending_new"
	OrderStatusWorking    OrderStatus = "working"
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusFilled     OrderStatus = "filled"
	OrderStatusSettled    OrderStatus = "settled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingNew,
	OrderStatusWorking,
	OrderStatusRejected,
	OrderStatusCanceled,
	OrderStatusFilled,
	OrderStatusSettled,
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusCanceled, OrderStatusSettled:
		return true
	default:
		return false
	}
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// OrderSide maps to the order_side enum in Postgres.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func ParseOrderSide(value string) (OrderSide, error) {
	switch OrderSide(value) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("invalid order side %q", value)
}
