package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	ClientID  uuid.UUID        `json:"clientId"`
	AccountID *uuid.UUID       `json:"accountId,omitempty"`
	Role      enums.ClientRole `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// CorrelationID carries the saga identity (the order id) so every hop in a
// chain can be traced back to the placement that started it.
type PayloadEnvelope struct {
	Version       int             `json:"version"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Actor         *ActorRef       `json:"actor,omitempty"`
	Data          json.RawMessage `json:"data"`
}
