package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/relaychat/chat-bridge-service/internal/domain/model"
)

// MetaNodeID marks which node published a frame to the bus.
const MetaNodeID = "node_id"

// Dispatcher is the high-level export surface for outgoing canonical
// messages. Transport handlers stay agnostic of the bus implementation.
type Dispatcher struct {
	bus    *Bus
	topic  string
	logger *slog.Logger
}

func NewDispatcher(bus *Bus, topic string, logger *slog.Logger) *Dispatcher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Dispatcher{bus: bus, topic: topic, logger: logger}
}

// Topic returns the cluster exchange the dispatcher publishes to.
func (d *Dispatcher) Topic() string { return d.topic }

// Publish exports one accepted canonical message to the cluster.
func (d *Dispatcher) Publish(ctx context.Context, msg *model.CanonicalMessage) error {
	if msg == nil {
		return fmt.Errorf("pubsub: cannot publish nil message")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pubsub: marshal: %w", err)
	}

	wm := message.NewMessage(uuid.NewString(), payload)
	wm.Metadata.Set(MetaNodeID, d.bus.NodeID)
	wm.SetContext(ctx)

	if err := d.bus.Pub.Publish(d.topic, wm); err != nil {
		return fmt.Errorf("pubsub: publish to %s: %w", d.topic, err)
	}
	return nil
}

// PublishAsync exports without blocking the caller; failures are logged only.
func (d *Dispatcher) PublishAsync(ctx context.Context, msg *model.CanonicalMessage) {
	go func() {
		if err := d.Publish(context.WithoutCancel(ctx), msg); err != nil {
			d.logger.Warn("cluster export failed",
				slog.String("msg_id", msg.ID),
				slog.Any("err", err),
			)
		}
	}()
}
