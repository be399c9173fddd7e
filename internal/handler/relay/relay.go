// Package relay re-ingests canonical messages published to the cluster bus
// by other nodes. This is the path the deduplicator and the hop ceiling
// exist for: a relayed message goes through the same Broadcast pass as local
// traffic and must not multiply.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/relaychat/chat-bridge-service/internal/adapter/pubsub"
	"github.com/relaychat/chat-bridge-service/internal/domain/model"
	"github.com/relaychat/chat-bridge-service/internal/service"
)

type Relay struct {
	logger *slog.Logger
	engine *service.Engine
	bus    *pubsub.Bus
	topic  string
	router *message.Router
}

func New(logger *slog.Logger, engine *service.Engine, bus *pubsub.Bus, topic string) (*Relay, error) {
	if topic == "" {
		topic = pubsub.DefaultTopic
	}
	wmLogger := watermill.NewSlogLogger(logger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Multiplier:      2.0,
		}.Middleware,
	)

	r := &Relay{
		logger: logger,
		engine: engine,
		bus:    bus,
		topic:  topic,
		router: router,
	}
	router.AddNoPublisherHandler("cluster-relay", topic, bus.Sub, r.onMessage)
	return r, nil
}

// Start runs the router until the context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	go func() {
		if err := r.router.Run(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("relay router stopped", slog.Any("err", err))
		}
	}()
	return nil
}

func (r *Relay) Stop(_ context.Context) error {
	return r.router.Close()
}

func (r *Relay) onMessage(wm *message.Message) error {
	// Frames this node published come straight back on the gochannel bus
	// and, depending on bindings, on AMQP too. Local traffic was already
	// broadcast once; skip it here.
	if wm.Metadata.Get(pubsub.MetaNodeID) == r.bus.NodeID {
		return nil
	}

	var msg model.CanonicalMessage
	if err := json.Unmarshal(wm.Payload, &msg); err != nil {
		// Poison frame; ack and move on.
		r.logger.Warn("undecodable cluster frame dropped",
			slog.String("wm_id", wm.UUID),
			slog.Any("err", err),
		)
		return nil
	}

	delivered := r.engine.Broadcast(&msg, "")
	r.logger.Debug("cluster frame relayed",
		slog.String("msg_id", msg.ID),
		slog.Int("delivered", delivered),
	)
	return nil
}
