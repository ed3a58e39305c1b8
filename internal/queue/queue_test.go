package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "ledger_retry", Body: json.RawMessage(`{"a":1}`)}))
	assert.Equal(t, 1, q.Len())

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "ledger_retry", msg.Type)
		assert.JSONEq(t, `{"a":1}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	_, open := <-msgs
	assert.False(t, open)
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "x"}), context.Canceled)
}

func TestEncodeDecode(t *testing.T) {
	raw, err := encode(Message{Type: "ledger_retry", Body: json.RawMessage(`{"intern_id":"i|1"}`)})
	require.NoError(t, err)

	msg, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "ledger_retry", msg.Type)
	assert.JSONEq(t, `{"intern_id":"i|1"}`, string(msg.Body))

	_, err = decode("not json")
	assert.Error(t, err)
}
