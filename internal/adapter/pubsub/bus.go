// Package pubsub connects the hub to the cluster event bus. With AMQP
// configured, accepted messages are exported to a topic exchange and remote
// nodes' messages are consumed back in; without it, an in-process gochannel
// bus keeps the same pipeline alive on a single node.
package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Bus bundles the publisher/subscriber pair plus this node's identity on the
// bus. NodeID lets the relay skip frames this process published itself.
type Bus struct {
	Pub    message.Publisher
	Sub    message.Subscriber
	NodeID string
}

// Config selects the transport.
type Config struct {
	AMQPEnabled bool
	AMQPURL     string
	Topic       string
}

// DefaultTopic is the cluster exchange for canonical messages.
const DefaultTopic = "chatbridge.messages"

func NewBus(cfg Config, logger *slog.Logger) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	nodeID := uuid.NewString()

	if !cfg.AMQPEnabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		return &Bus{Pub: ch, Sub: ch, NodeID: nodeID}, nil
	}

	amqpCfg := wamqp.NewDurablePubSubConfig(
		cfg.AMQPURL,
		wamqp.GenerateQueueNameTopicNameWithSuffix("chat-bridge."+nodeID[:8]),
	)
	pub, err := wamqp.NewPublisher(amqpCfg, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
	}
	sub, err := wamqp.NewSubscriber(amqpCfg, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
	}
	return &Bus{Pub: pub, Sub: sub, NodeID: nodeID}, nil
}

// Close releases both ends of the bus.
func (b *Bus) Close() error {
	if err := b.Pub.Close(); err != nil {
		return err
	}
	// gochannel shares one object for both ends; closing twice is safe.
	return b.Sub.Close()
}
