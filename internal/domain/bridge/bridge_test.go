package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaychat/chat-bridge-service/internal/domain/model"
)

func chat(origin model.Origin, hops int) *model.CanonicalMessage {
	return &model.CanonicalMessage{
		ID:       "m1",
		Kind:     model.KindChat,
		Content:  "hello",
		Origin:   origin,
		HopCount: hops,
	}
}

func TestHopCeilingDropsEverywhere(t *testing.T) {
	b := New(3)

	for _, origin := range []model.Origin{model.OriginEnterprise, model.OriginLegacy, model.OriginSystem} {
		for _, kind := range []model.MessageKind{model.KindChat, model.KindSystem, model.KindIdentityJoined} {
			msg := chat(origin, 3)
			msg.Kind = kind
			assert.False(t, b.ShouldDeliver(msg, model.PopulationEnterprise),
				"origin=%s kind=%s must not cross at the ceiling", origin, kind)
			assert.False(t, b.ShouldDeliver(msg, model.PopulationLegacy),
				"origin=%s kind=%s must not cross at the ceiling", origin, kind)
		}
	}
}

func TestExceeded(t *testing.T) {
	b := New(3)
	assert.False(t, b.Exceeded(chat(model.OriginEnterprise, 2)))
	assert.True(t, b.Exceeded(chat(model.OriginEnterprise, 3)))
	assert.True(t, b.Exceeded(chat(model.OriginEnterprise, 7)))
}

func TestAdministrativeKindsAlwaysCross(t *testing.T) {
	b := New(3)

	for _, kind := range []model.MessageKind{model.KindSystem, model.KindIdentityJoined, model.KindIdentityLeft} {
		msg := chat(model.OriginEnterprise, 0)
		msg.Kind = kind
		assert.True(t, b.ShouldDeliver(msg, model.PopulationEnterprise), "kind=%s", kind)
		assert.True(t, b.ShouldDeliver(msg, model.PopulationLegacy), "kind=%s", kind)
	}
}

func TestDirectionalRules(t *testing.T) {
	b := New(3)

	// Enterprise chat crosses to legacy, never echoes via the bridge.
	ent := chat(model.OriginEnterprise, 0)
	assert.True(t, b.ShouldDeliver(ent, model.PopulationLegacy))
	assert.False(t, b.ShouldDeliver(ent, model.PopulationEnterprise))

	// Legacy chat crosses to enterprise, never echoes via the bridge.
	leg := chat(model.OriginLegacy, 0)
	assert.True(t, b.ShouldDeliver(leg, model.PopulationEnterprise))
	assert.False(t, b.ShouldDeliver(leg, model.PopulationLegacy))

	// Typing indicators are not administrative and never cross.
	typing := chat(model.OriginEnterprise, 0)
	typing.Kind = model.KindTypingStart
	assert.False(t, b.ShouldDeliver(typing, model.PopulationLegacy))
	assert.False(t, b.ShouldDeliver(typing, model.PopulationEnterprise))
}

func TestDefaultCeiling(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultHopCeiling, b.HopCeiling())
}
