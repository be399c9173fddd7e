// Package bridge holds the directional policy deciding whether a message may
// cross from one population to another.
//
// Without these rules a message fanned out to every connection and then
// re-ingested by a relay would multiply indefinitely. Two independent loop
// guards apply: the hop ceiling bounds total propagation depth, and the
// directional rules make enterprise->enterprise and legacy->legacy crossings
// a non-decision (intra-population fan-out is the engine's job, not ours).
package bridge

import "github.com/relaychat/chat-bridge-service/internal/domain/model"

// DefaultHopCeiling bounds how many broadcast passes a message survives.
const DefaultHopCeiling = 3

// Bridge is a stateless policy object. It exists as a constructed instance
// rather than package functions so the ceiling is injectable in tests.
type Bridge struct {
	hopCeiling int
}

func New(hopCeiling int) *Bridge {
	if hopCeiling <= 0 {
		hopCeiling = DefaultHopCeiling
	}
	return &Bridge{hopCeiling: hopCeiling}
}

// HopCeiling returns the configured propagation bound.
func (b *Bridge) HopCeiling() int { return b.hopCeiling }

// Exceeded reports whether the message has used up its propagation budget.
// Messages at or above the ceiling are dropped everywhere, never forwarded.
func (b *Bridge) Exceeded(msg *model.CanonicalMessage) bool {
	return msg.HopCount >= b.hopCeiling
}

// ShouldDeliver decides whether msg may cross into the destination population.
func (b *Bridge) ShouldDeliver(msg *model.CanonicalMessage, dest model.Population) bool {
	if b.Exceeded(msg) {
		return false
	}

	// Administrative events (system, joined, left) always propagate.
	if msg.Kind.IsAdministrative() {
		return true
	}

	switch {
	case msg.Origin == model.OriginEnterprise && dest == model.PopulationLegacy:
		return true
	case msg.Origin == model.OriginLegacy && dest == model.PopulationEnterprise:
		// Only conversational traffic is re-bridged. Legacy system echoes
		// would duplicate join/leave announcements the enterprise side
		// already saw.
		return msg.Kind == model.KindChat
	}

	// Everything else, notably same-population echo, is not a bridge
	// crossing and is denied here.
	return false
}
