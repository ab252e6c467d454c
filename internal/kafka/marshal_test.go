package kafka

import (
	"encoding/json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestUnwrapPayload(t *testing.T) {
	type paid struct {
		OrderID string `json:"order_id"`
	}
	got, err := UnwrapPayload[paid](json.RawMessage(`{"order_id":"O1"}`))
	require.NoError(t, err)
	assert.Equal(t, "O1", got.OrderID)

	_, err = UnwrapPayload[paid](json.RawMessage(`{"order_id":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode payload")
}

func TestEventHeaders(t *testing.T) {
	m := kafka.Message{Headers: EventHeaders("OrderPaid", 1)}
	assert.Equal(t, "OrderPaid", Header(m, HeaderEventType))
	assert.Equal(t, "1", Header(m, HeaderEventVersion))
	assert.Empty(t, Header(m, "x-missing"))
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(make(chan int)) })
}
