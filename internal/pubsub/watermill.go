package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// WatermillBridge implements Publisher and Subscriber on top of watermill's
// in-memory GoChannel. Publish blocks until every subscriber has handled the
// message, so each subscriber sees a topic in publish order.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a WatermillBridge.
type Option func(*bridgeOptions)

type bridgeOptions struct {
	buffer int64
	tracer trace.Tracer
}

// WithTracer records a span for every publish and every handled message.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *bridgeOptions) {
		o.tracer = tracer
	}
}

// WithOutputBuffer sets the per-subscriber channel buffer.
func WithOutputBuffer(n int64) Option {
	return func(o *bridgeOptions) {
		o.buffer = n
	}
}

const (
	// Metadata keys used to transfer our Message structure fields through watermill's message.
	metaKeyKey   = "key"
	metaKeyTopic = "topic"
)

// NewWatermillBridge initializes an in-memory Pub/Sub system.
func NewWatermillBridge(opts ...Option) *WatermillBridge {
	o := bridgeOptions{buffer: 64}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer(tracerName)
	}

	logger := slog.Default().With("service", "pubsub")
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            o.buffer,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewStdLogger(false, false),
	)

	return &WatermillBridge{
		pub:    NewPublisherTracingMiddleware(goChannel, o.tracer),
		sub:    goChannel,
		tracer: o.tracer,
		logger: logger,
	}
}

// mapToWatermillMessage converts our pubsub.Message to a watermill message.
func mapToWatermillMessage(ctx context.Context, msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.SetContext(ctx)

	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyKey, msg.Key)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)

	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to our internal pubsub.Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyKey && k != metaKeyTopic {
			metadata[k] = v
		}
	}

	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		Key:      wmMsg.Metadata.Get(metaKeyKey),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements the Publisher interface.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return fmt.Errorf("publish: empty topic")
	}
	return wb.pub.Publish(msg.Topic, mapToWatermillMessage(ctx, msg))
}

// Subscribe implements the Subscriber interface. Messages are handed to
// handler one at a time.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for wmMsg := range messages {
			if err := wb.handle(ctx, wmMsg, handler); err != nil {
				wb.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
				// gochannel would redeliver a nacked message; the in-memory
				// bus logs it and moves on instead.
			}
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

func (wb *WatermillBridge) handle(ctx context.Context, wmMsg *message.Message, handler Handler) (err error) {
	msg := mapToPubSubMessage(wmMsg)

	parent := propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier(wmMsg.Metadata))
	spanCtx, span := wb.tracer.Start(parent,
		"pubsub.process."+msg.Topic,
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", "process"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", wmMsg.UUID),
			attribute.String("messaging.record_key", msg.Key),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return handler(spanCtx, msg)
}

// Close implements the Publisher and Subscriber interface to shut down the bridge.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
