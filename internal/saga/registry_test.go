package saga

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
)

func noopHandler(context.Context, *gorm.DB, outbox.PayloadEnvelope, interface{}) ([]outbox.DomainEvent, error) {
	return nil, nil
}

func TestRegistryRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(enums.EventOrderPlaced, 1, DecodeAs[testPayload](), noopHandler))

	t.Run("DuplicateRegistration", func(t *testing.T) {
		err := reg.Register(enums.EventOrderPlaced, 1, DecodeAs[testPayload](), noopHandler)
		assert.Error(t, err)
	})

	t.Run("InvalidEventType", func(t *testing.T) {
		err := reg.Register(enums.OutboxEventType("order_vaporized"), 1, DecodeAs[testPayload](), noopHandler)
		assert.Error(t, err)
	})

	t.Run("NilHandler", func(t *testing.T) {
		err := reg.Register(enums.EventOrderCanceled, 1, DecodeAs[testPayload](), nil)
		assert.Error(t, err)
	})

	t.Run("NilDecoder", func(t *testing.T) {
		err := reg.Register(enums.EventOrderCanceled, 1, nil, noopHandler)
		assert.Error(t, err)
	})
}

func TestRegistryHandles(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(enums.EventFundsReserved, 1, DecodeAs[testPayload](), noopHandler))

	assert.True(t, reg.Handles(enums.EventFundsReserved))
	assert.False(t, reg.Handles(enums.EventOrderPlaced))
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(enums.EventOrderPlaced, 1, DecodeAs[testPayload](), noopHandler))

	orderID := uuid.New()
	data, err := json.Marshal(testPayload{OrderID: orderID})
	require.NoError(t, err)

	t.Run("DecodesPayload", func(t *testing.T) {
		handler, payload, err := reg.Resolve(enums.EventOrderPlaced, outbox.PayloadEnvelope{Version: 1, Data: data})
		require.NoError(t, err)
		require.NotNil(t, handler)
		typed, ok := payload.(*testPayload)
		require.True(t, ok)
		assert.Equal(t, orderID, typed.OrderID)
	})

	t.Run("UnregisteredEvent", func(t *testing.T) {
		_, _, err := reg.Resolve(enums.EventOrderFilled, outbox.PayloadEnvelope{Version: 1, Data: data})
		assert.Error(t, err)
	})

	t.Run("UnknownVersion", func(t *testing.T) {
		_, _, err := reg.Resolve(enums.EventOrderPlaced, outbox.PayloadEnvelope{Version: 9, Data: data})
		assert.Error(t, err)
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		_, _, err := reg.Resolve(enums.EventOrderPlaced, outbox.PayloadEnvelope{Version: 1, Data: json.RawMessage(`{"order_id":42}`)})
		assert.Error(t, err)
	})
}
