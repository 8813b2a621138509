package streaming

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rendis/autoflow/internal/xjson"
)

// DefaultTopic is the topic run events are published on.
const DefaultTopic = "autoflow.events"

// WatermillHub publishes events as watermill messages. Any watermill
// publisher/subscriber pair works; NewGoChannelHub wires the in-process one.
type WatermillHub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger
}

// NewWatermillHub creates a hub over an existing publisher and subscriber.
// subscriber may be nil for publish-only use.
func NewWatermillHub(pub message.Publisher, sub message.Subscriber, topic string, logger *slog.Logger) *WatermillHub {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermillHub{publisher: pub, subscriber: sub, topic: topic, logger: logger}
}

// NewGoChannelHub creates a hub on watermill's in-memory gochannel pub/sub.
func NewGoChannelHub(logger *slog.Logger) *WatermillHub {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: defaultChannelBuffer,
	}, watermill.NopLogger{})
	return NewWatermillHub(ps, ps, DefaultTopic, logger)
}

// Publish encodes the event as JSON. Metadata carries the type and execution id
// so brokers can route without decoding.
func (h *WatermillHub) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := xjson.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("execution_id", event.ExecutionID)
	msg.SetContext(ctx)

	if err := h.publisher.Publish(h.topic, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe decodes messages from the topic and forwards those matching filter.
func (h *WatermillHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error) {
	if h.subscriber == nil {
		return nil, nil, fmt.Errorf("watermill hub has no subscriber")
	}
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := h.subscriber.Subscribe(subCtx, h.topic)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe %s: %w", h.topic, err)
	}

	out := make(chan Event, defaultChannelBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := xjson.Unmarshal(msg.Payload, &ev); err != nil {
				h.logger.Warn("dropping undecodable event", "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			if !matchFilter(filter, ev) {
				continue
			}
			select {
			case out <- ev:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

// Close closes the underlying publisher and subscriber.
func (h *WatermillHub) Close() error {
	err := h.publisher.Close()
	if h.subscriber == nil {
		return err
	}
	if same, ok := h.subscriber.(message.Publisher); ok && same == h.publisher {
		return err
	}
	if serr := h.subscriber.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}
