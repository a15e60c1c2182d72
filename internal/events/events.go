// Package events publishes ride lifecycle events. Publishing is best effort:
// callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	RideCreated    Type = "ride_created"
	RideUpdated    Type = "ride_updated"
	RideBooked     Type = "ride_booked"
	RideCancelled  Type = "ride_cancelled"
	SessionStarted Type = "session_started"
	SessionExpired Type = "session_expired"
)

type Event struct {
	Type   Type      `json:"type"`
	UserID string    `json:"userId,omitempty"`
	RideID string    `json:"rideId,omitempty"`
	Role   string    `json:"role,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher is the interface used by the orchestrator.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.LeastBytes{}}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

// Publish writes e keyed by user id, so one user's events stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.UserID), Value: b, Time: e.At})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
