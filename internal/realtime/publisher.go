package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
)

// publisher is the slice of the Pub/Sub publisher the push path uses.
type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// OrderStatusMessage is the wire shape pushed onto account order channels.
type OrderStatusMessage struct {
	OrderID     string            `json:"order_id"`
	AccountID   string            `json:"account_id"`
	Symbol      string            `json:"symbol"`
	Status      enums.OrderStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	AmountCents int64             `json:"amount_cents"`
	PushedAt    time.Time         `json:"pushed_at"`
}

// Publisher fans order status changes out to the realtime topic. Pushes are
// fire and forget; the durable record lives in the orders table.
type Publisher struct {
	topic publisher
	logg  *logger.Logger
}

func NewPublisher(topic publisher, logg *logger.Logger) (*Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("realtime topic publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Publisher{topic: topic, logg: logg}, nil
}

// OrderStatusChanged publishes the order's new status to its account channel.
func (p *Publisher) OrderStatusChanged(ctx context.Context, order *models.Order) {
	if order == nil {
		return
	}
	message := OrderStatusMessage{
		OrderID:     order.ID.String(),
		AccountID:   order.AccountID.String(),
		Symbol:      order.Symbol,
		Status:      order.Status,
		AmountCents: order.AmountCents,
		PushedAt:    time.Now().UTC(),
	}
	if order.Reason != nil {
		message.Reason = *order.Reason
	}
	data, err := json.Marshal(message)
	if err != nil {
		p.logg.Error(ctx, "failed to encode realtime push", err)
		return
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"channel":    OrderChannel(order.AccountID.String()),
			"account_id": order.AccountID.String(),
			"order_id":   order.ID.String(),
		},
	})
	// The caller may be inside a DB transaction, so the ack wait happens
	// off the hot path.
	logCtx := p.logg.WithOrderID(p.logg.WithAccountID(context.Background(), order.AccountID.String()), order.ID.String())
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			p.logg.Error(logCtx, "realtime push failed", err)
		}
	}()
}

// OrderChannel returns the per-account channel name for order updates.
func OrderChannel(accountID string) string {
	return fmt.Sprintf("accounts.%s.orders", accountID)
}
