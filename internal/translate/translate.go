// Package translate is the pure, stateless mapping between the legacy wire
// format and the canonical message model.
//
// The round trip is stable for chat and the notice-like kinds: content and
// coarse category survive canonical->legacy->canonical exactly. Joined/left
// notices collapse to a generic system notice on the return trip; that loss
// is accepted, the legacy protocol has a single notice frame.
package translate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relaychat/chat-bridge-service/internal/domain/model"
)

var (
	// ErrEmptyContent rejects frames whose resolved content is empty or
	// whitespace-only.
	ErrEmptyContent = errors.New("translate: empty content")

	// ErrUnsupportedKind rejects canonical kinds the legacy protocol
	// cannot express (typing indicators, unknown kinds).
	ErrUnsupportedKind = errors.New("translate: unsupported kind")

	// ErrUnknownLegacyKind rejects frames outside the legacy enumeration.
	ErrUnknownLegacyKind = errors.New("translate: unknown legacy frame type")
)

// IsValidLegacyShape reports whether the frame is structurally translatable:
// a known type carrying non-blank content in the field that type reads.
func IsValidLegacyShape(lm *model.LegacyMessage) bool {
	if lm == nil {
		return false
	}
	switch lm.Type {
	case model.LegacyChat:
		return strings.TrimSpace(lm.Content) != "" || strings.TrimSpace(lm.Payload) != ""
	case model.LegacyNotice, model.LegacyNameAssigned:
		return strings.TrimSpace(lm.Payload) != ""
	}
	return false
}

// ToCanonical converts an inbound legacy frame into the canonical model.
// It stamps origin=legacy, a fresh message id, and the current time; the
// caller attaches the connection's assigned display name afterwards.
func ToCanonical(lm *model.LegacyMessage, senderConnectionID string) (*model.CanonicalMessage, error) {
	if lm == nil {
		return nil, ErrUnknownLegacyKind
	}

	msg := &model.CanonicalMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Origin:    model.OriginLegacy,
		SenderID:  "legacy-" + senderConnectionID,
	}

	switch lm.Type {
	case model.LegacyChat:
		content := strings.TrimSpace(lm.Content)
		if content == "" {
			// Very old clients put chat text in the notice field.
			content = strings.TrimSpace(lm.Payload)
		}
		if content == "" {
			return nil, ErrEmptyContent
		}
		msg.Kind = model.KindChat
		msg.Content = content
		msg.SenderName = lm.Sender

	case model.LegacyNotice:
		content := strings.TrimSpace(lm.Payload)
		if content == "" {
			return nil, ErrEmptyContent
		}
		msg.Kind = model.KindSystem
		msg.Content = content
		msg.SenderID = model.SystemSenderID
		msg.SenderName = "System"

	case model.LegacyNameAssigned:
		name := strings.TrimSpace(lm.Payload)
		if name == "" {
			return nil, ErrEmptyContent
		}
		msg.Kind = model.KindIdentityJoined
		msg.Content = fmt.Sprintf("%s joined the chat", name)
		msg.SenderName = name

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLegacyKind, lm.Type)
	}

	return msg, nil
}

// ToLegacy converts a canonical message into its wire-level counterpart.
// Message id, origin, and hop count are stripped; they have no legacy
// representation.
func ToLegacy(msg *model.CanonicalMessage) (*model.LegacyMessage, error) {
	if msg == nil {
		return nil, ErrUnsupportedKind
	}

	switch msg.Kind {
	case model.KindChat:
		return &model.LegacyMessage{
			Type:    model.LegacyChat,
			Content: msg.Content,
			Sender:  msg.SenderName,
		}, nil

	case model.KindSystem, model.KindIdentityJoined, model.KindIdentityLeft:
		return &model.LegacyMessage{
			Type:    model.LegacyNotice,
			Payload: msg.Content,
		}, nil

	default:
		// The legacy protocol has no typing indicator.
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, msg.Kind)
	}
}
