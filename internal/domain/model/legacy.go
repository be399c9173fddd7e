package model

import "encoding/json"

// LegacyKind is the closed set of frame types the legacy line protocol knows.
// Wire values are historical and must not change.
type LegacyKind string

const (
	LegacyNameAssigned LegacyKind = "your_name"
	LegacyChat         LegacyKind = "message"
	LegacyNotice       LegacyKind = "system"

	// LegacyPing and LegacyPong are transport-level liveness frames. The
	// listener consumes them before translation; they never become
	// canonical messages.
	LegacyPing LegacyKind = "ping"
	LegacyPong LegacyKind = "pong"
)

// Valid reports whether k is a translatable legacy frame type.
func (k LegacyKind) Valid() bool {
	switch k {
	case LegacyNameAssigned, LegacyChat, LegacyNotice:
		return true
	}
	return false
}

// LegacyMessage is one line-delimited JSON frame of the legacy wire protocol.
// It carries no message id, origin, or hop count; the translator synthesizes
// those at the boundary and strips them on the way out.
type LegacyMessage struct {
	Type    LegacyKind `json:"type"`
	Payload string     `json:"payload,omitempty"`
	Content string     `json:"content,omitempty"`
	Sender  string     `json:"sender,omitempty"`
}

// Encode renders the frame as a single JSON line without trailing newline.
func (m *LegacyMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeLegacy parses one wire line into a frame. Unknown frame types are
// returned as-is; shape validation is the translator's concern.
func DecodeLegacy(line []byte) (*LegacyMessage, error) {
	var m LegacyMessage
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
