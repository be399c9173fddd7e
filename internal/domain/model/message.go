package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind is the closed set of canonical event kinds. Decoding is explicit:
// anything outside this set is rejected at the boundary, never carried inward.
type MessageKind string

const (
	KindChat           MessageKind = "chat"
	KindSystem         MessageKind = "system"
	KindIdentityJoined MessageKind = "identity-joined"
	KindIdentityLeft   MessageKind = "identity-left"
	KindTypingStart    MessageKind = "typing-start"
	KindTypingStop     MessageKind = "typing-stop"
)

// Valid reports whether k is a known canonical kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindChat, KindSystem, KindIdentityJoined, KindIdentityLeft, KindTypingStart, KindTypingStop:
		return true
	}
	return false
}

// IsAdministrative reports whether the kind always propagates to every
// population regardless of origin (system and presence events).
func (k MessageKind) IsAdministrative() bool {
	switch k {
	case KindSystem, KindIdentityJoined, KindIdentityLeft:
		return true
	}
	return false
}

// Origin identifies which population produced a message.
type Origin string

const (
	OriginEnterprise Origin = "enterprise"
	OriginLegacy     Origin = "legacy"
	OriginSystem     Origin = "system"
)

// Population is a delivery destination. The system origin is not a population;
// system messages have producers but no connected pool of their own.
type Population string

const (
	PopulationEnterprise Population = "enterprise"
	PopulationLegacy     Population = "legacy"
)

// Population returns the connection pool the origin corresponds to,
// or false for the system origin.
func (o Origin) Population() (Population, bool) {
	switch o {
	case OriginEnterprise:
		return PopulationEnterprise, true
	case OriginLegacy:
		return PopulationLegacy, true
	}
	return "", false
}

// SystemSenderID is the senderId stamped on system-originated events.
const SystemSenderID = "system"

// CanonicalMessage is the single internal representation of a broadcastable
// event. Both wire formats converge on this shape before any routing decision
// is made.
type CanonicalMessage struct {
	// ID is the deduplication key. Assigned by the engine when the
	// producer omitted one; an empty id exempts the message from dedup.
	ID string `json:"messageId"`

	Kind       MessageKind `json:"kind"`
	Content    string      `json:"content"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderDisplayName"`
	Timestamp  time.Time   `json:"timestamp"`
	Origin     Origin      `json:"origin"`

	// HopCount is incremented once per broadcast pass. Together with the
	// directional bridge rules it bounds re-broadcast loops.
	HopCount int `json:"hopCount"`

	// Metadata is opaque to the engine and carried verbatim.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewSystemMessage builds a system-originated canonical message.
func NewSystemMessage(kind MessageKind, content string) *CanonicalMessage {
	return &CanonicalMessage{
		ID:         uuid.NewString(),
		Kind:       kind,
		Content:    content,
		SenderID:   SystemSenderID,
		SenderName: "System",
		Timestamp:  time.Now(),
		Origin:     OriginSystem,
	}
}
