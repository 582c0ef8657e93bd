package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by publishers and subscriptions used after Close.
var ErrClosed = errors.New("bus: closed")

// Message is a single keyed record on a topic.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Time      time.Time
}

// Publisher writes messages to topics.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

// Subscription reads one topic in order. Commit acknowledges a fetched
// message so it is not redelivered to the consumer group.
type Subscription interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(topic string) (Subscription, error)
}

// Broker is a Publisher that is also a Subscriber.
type Broker interface {
	Publisher
	Subscriber
}

// PublishJSON encodes v and publishes it to topic under key.
func PublishJSON(ctx context.Context, pub Publisher, topic string, key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode %s payload: %w", topic, err)
	}
	return pub.Publish(ctx, Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			"content-type": "application/json",
		},
	})
}

// DecodeJSON decodes the message value into v.
func DecodeJSON(msg Message, v any) error {
	if len(msg.Value) == 0 {
		return fmt.Errorf("bus: empty %s payload", msg.Topic)
	}
	if err := json.Unmarshal(msg.Value, v); err != nil {
		return fmt.Errorf("bus: decode %s payload: %w", msg.Topic, err)
	}
	return nil
}
