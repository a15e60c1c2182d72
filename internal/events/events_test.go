package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublisherKeysByUser(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, p.Publish(context.Background(), Event{Type: RideBooked, UserID: "u1", RideID: "r1", At: at}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("u1"), w.msgs[0].Key)
	assert.Equal(t, at, w.msgs[0].Time)

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, RideBooked, got.Type)
	assert.Equal(t, "r1", got.RideID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{Type: SessionStarted}))
}
