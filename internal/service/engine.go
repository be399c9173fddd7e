// Package service contains the broadcast engine: the orchestrator that
// validates and tags inbound messages, consults the deduplicator and the
// bridge, and fans out through the connection registry.
package service

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relaychat/chat-bridge-service/internal/dedup"
	"github.com/relaychat/chat-bridge-service/internal/domain/bridge"
	"github.com/relaychat/chat-bridge-service/internal/domain/model"
	"github.com/relaychat/chat-bridge-service/internal/domain/registry"
	"github.com/relaychat/chat-bridge-service/internal/metric"
	"github.com/relaychat/chat-bridge-service/internal/ratelimit"
	"github.com/relaychat/chat-bridge-service/internal/translate"
)

// DefaultMaxContentBytes bounds message content at the application boundary.
// The transport boundary enforces its own, larger frame limit.
const DefaultMaxContentBytes = 2000

// Engine coordinates dedup, bridging, translation, and fan-out. It holds no
// connection state of its own; membership belongs to the registry alone.
type Engine struct {
	reg     *registry.Registry
	bridge  *bridge.Bridge
	dedup   *dedup.Deduplicator
	limiter *ratelimit.Limiter
	metrics *metric.Set
	logger  *slog.Logger

	maxContentBytes int
}

func NewEngine(
	reg *registry.Registry,
	br *bridge.Bridge,
	dd *dedup.Deduplicator,
	rl *ratelimit.Limiter,
	metrics *metric.Set,
	logger *slog.Logger,
	maxContentBytes int,
) *Engine {
	if maxContentBytes <= 0 {
		maxContentBytes = DefaultMaxContentBytes
	}
	return &Engine{
		reg:             reg,
		bridge:          br,
		dedup:           dd,
		limiter:         rl,
		metrics:         metrics,
		logger:          logger,
		maxContentBytes: maxContentBytes,
	}
}

// Broadcast validates and tags the message, then fans it out to every
// permitted population. excludeIdentityID, when non-empty, skips that
// identity's own enterprise connections (callers whose transport already
// echoes locally).
//
// Returns the number of sockets actually written to. Duplicates, invalid
// shapes, and hop-exhausted messages are silent drops: logged, counted,
// never surfaced as errors.
func (e *Engine) Broadcast(msg *model.CanonicalMessage, excludeIdentityID string) int {
	if msg == nil {
		return 0
	}

	if !e.dedup.ShouldProcess(msg.ID) {
		e.metrics.Dropped("duplicate")
		e.logger.Debug("duplicate message suppressed", slog.String("msg_id", msg.ID))
		return 0
	}

	if reason, ok := e.validate(msg); !ok {
		e.metrics.Dropped(reason)
		e.logger.Debug("invalid message dropped",
			slog.String("msg_id", msg.ID),
			slog.String("reason", reason),
		)
		return 0
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Origin == "" {
		msg.Origin = model.OriginSystem
	}

	// Hop budget is checked before the increment: a message arriving at
	// the ceiling is dropped outright, never forwarded anywhere.
	if e.bridge.Exceeded(msg) {
		e.metrics.Dropped("hop_ceiling")
		e.logger.Debug("hop ceiling reached", slog.String("msg_id", msg.ID), slog.Int("hops", msg.HopCount))
		return 0
	}

	// A population receives the message either as its own direct fan-out
	// (intra-population traffic never consults the bridge) or because the
	// directional bridge rules admit the crossing. Decisions are taken on
	// the arrival hop count; the increment below is what the recipients see.
	originPop, hasPop := msg.Origin.Population()
	toEnterprise := (hasPop && originPop == model.PopulationEnterprise) || e.bridge.ShouldDeliver(msg, model.PopulationEnterprise)
	toLegacy := (hasPop && originPop == model.PopulationLegacy) || e.bridge.ShouldDeliver(msg, model.PopulationLegacy)
	msg.HopCount++

	delivered := 0
	if toEnterprise {
		delivered += e.fanOutEnterprise(msg, excludeIdentityID)
	}
	if toLegacy {
		delivered += e.fanOutLegacy(msg)
	}

	e.metrics.Broadcast(delivered)
	return delivered
}

func (e *Engine) fanOutEnterprise(msg *model.CanonicalMessage, excludeIdentityID string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("canonical marshal failed", slog.String("msg_id", msg.ID), slog.Any("err", err))
		return 0
	}

	sent := 0
	for _, conn := range e.reg.AllEnterprise() {
		if excludeIdentityID != "" && conn.IdentityID == excludeIdentityID {
			continue
		}
		if !conn.Send(data) {
			// One dead socket must not abort the rest of the pass.
			e.logger.Warn("enterprise send failed, evicting",
				slog.String("conn_id", conn.ID.String()),
				slog.String("identity_id", conn.IdentityID),
			)
			e.reg.Evict(conn.ID)
			continue
		}
		sent++
	}
	return sent
}

func (e *Engine) fanOutLegacy(msg *model.CanonicalMessage) int {
	frame, err := translate.ToLegacy(msg)
	if err != nil {
		// Kinds the legacy protocol cannot express simply skip the pool.
		e.logger.Debug("legacy translation skipped",
			slog.String("msg_id", msg.ID),
			slog.String("kind", string(msg.Kind)),
		)
		return 0
	}
	data, err := frame.Encode()
	if err != nil {
		e.logger.Error("legacy marshal failed", slog.String("msg_id", msg.ID), slog.Any("err", err))
		return 0
	}

	sent := 0
	for _, conn := range e.reg.AllLegacy() {
		if !conn.Send(data) {
			e.logger.Warn("legacy send failed, evicting",
				slog.String("conn_id", conn.ID.String()),
				slog.String("assigned_name", conn.AssignedName),
			)
			e.reg.Evict(conn.ID)
			continue
		}
		sent++
	}
	return sent
}

// validate checks structural shape. Typing indicators carry no text and are
// exempt from the content requirement.
func (e *Engine) validate(msg *model.CanonicalMessage) (string, bool) {
	if !msg.Kind.Valid() {
		return "unknown_kind", false
	}
	switch msg.Kind {
	case model.KindTypingStart, model.KindTypingStop:
	default:
		if strings.TrimSpace(msg.Content) == "" {
			return "empty_content", false
		}
	}
	if len(msg.Content) > e.maxContentBytes {
		return "oversized_content", false
	}
	return "", true
}

// BroadcastSystem emits a system notice to every population.
func (e *Engine) BroadcastSystem(content string) int {
	return e.Broadcast(model.NewSystemMessage(model.KindSystem, content), "")
}

// BroadcastIdentityJoined announces a new participant.
func (e *Engine) BroadcastIdentityJoined(displayName, identityID string) int {
	msg := model.NewSystemMessage(model.KindIdentityJoined, displayName+" joined the chat")
	msg.Metadata = map[string]string{"identityId": identityID}
	return e.Broadcast(msg, "")
}

// BroadcastIdentityLeft announces a departure.
func (e *Engine) BroadcastIdentityLeft(displayName, identityID string) int {
	msg := model.NewSystemMessage(model.KindIdentityLeft, displayName+" left the chat")
	msg.Metadata = map[string]string{"identityId": identityID}
	return e.Broadcast(msg, "")
}

// IdentityLeft implements registry.PresenceNotifier; evictions announce the
// departure through the normal broadcast path.
func (e *Engine) IdentityLeft(displayName, identityID string) {
	e.BroadcastIdentityLeft(displayName, identityID)
}

// HandleEnterpriseInbound processes one frame read off an enterprise socket.
// Rate-limited sends are dropped silently; the client learns nothing at the
// socket layer, and persistent abuse blocks the remote address. Returns the
// delivered count and the accepted canonical message (nil when dropped) so
// the transport layer can persist and export it.
func (e *Engine) HandleEnterpriseInbound(conn *registry.EnterpriseConn, msg *model.CanonicalMessage) (int, *model.CanonicalMessage) {
	conn.Touch()

	if res := e.limiter.CheckMessageRate(conn.IdentityID); !res.Allowed {
		e.limiter.Block(conn.RemoteAddr)
		e.metrics.RateLimited(string(ratelimit.KindMessage))
		e.metrics.Blocked()
		e.logger.Debug("enterprise send rate limited",
			slog.String("identity_id", conn.IdentityID),
			slog.Time("reset_at", res.ResetAt),
		)
		return 0, nil
	}

	// Client-supplied attribution is never trusted.
	msg.SenderID = conn.IdentityID
	msg.SenderName = conn.DisplayName
	msg.Timestamp = time.Now()
	msg.Origin = model.OriginEnterprise
	msg.HopCount = 0

	delivered := e.Broadcast(msg, conn.IdentityID)
	return delivered, msg
}

// HandleLegacyInbound processes one line read off a legacy socket.
// Translation failures are dropped and logged; legacy clients receive no
// error frames. No echo exclusion is applied: the legacy client UI owns
// suppression of its own line.
func (e *Engine) HandleLegacyInbound(conn *registry.LegacyConn, frame *model.LegacyMessage) (int, *model.CanonicalMessage) {
	conn.Touch()

	if res := e.limiter.CheckMessageRate(conn.RemoteAddr); !res.Allowed {
		e.limiter.Block(conn.RemoteAddr)
		e.metrics.RateLimited(string(ratelimit.KindMessage))
		e.metrics.Blocked()
		e.logger.Debug("legacy send rate limited",
			slog.String("remote_addr", conn.RemoteAddr),
			slog.Time("reset_at", res.ResetAt),
		)
		return 0, nil
	}

	msg, err := translate.ToCanonical(frame, conn.ID.String())
	if err != nil {
		e.metrics.Dropped("untranslatable")
		e.logger.Debug("legacy frame dropped",
			slog.String("conn_id", conn.ID.String()),
			slog.Any("err", err),
		)
		return 0, nil
	}
	if msg.Kind == model.KindChat {
		msg.SenderName = conn.AssignedName
	}

	delivered := e.Broadcast(msg, "")
	return delivered, msg
}
