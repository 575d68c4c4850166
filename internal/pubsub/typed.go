package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Topic names a stream whose payloads are JSON encodings of T.
type Topic[T any] struct {
	name string
}

// NewTopic returns a typed handle for the named topic.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

// Publish sends a typed payload. The compiler ensures payload matches T.
func Publish[T any](ctx context.Context, p Publisher, topic Topic[T], key string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic.name, err)
	}
	return p.Publish(ctx, Message{
		Topic:   topic.name,
		Key:     key,
		Payload: data,
	})
}

// Subscribe decodes each payload on topic into T before calling handler.
func Subscribe[T any](ctx context.Context, s Subscriber, topic Topic[T], handler func(ctx context.Context, key string, payload T) error) error {
	return s.Subscribe(ctx, topic.name, func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", topic.name, err)
		}
		return handler(ctx, msg.Key, payload)
	})
}
