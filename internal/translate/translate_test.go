package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/chat-bridge-service/internal/domain/model"
)

func TestChatRoundTripPreservesContent(t *testing.T) {
	for _, content := range []string{"hello", "multi word line", "émoji ✓", "{json: looking}"} {
		in := &model.LegacyMessage{Type: model.LegacyChat, Content: content, Sender: "alice"}

		canonical, err := ToCanonical(in, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, model.KindChat, canonical.Kind)
		assert.Equal(t, content, canonical.Content)
		assert.Equal(t, model.OriginLegacy, canonical.Origin)
		assert.Equal(t, "legacy-conn-1", canonical.SenderID)
		assert.NotEmpty(t, canonical.ID)
		assert.False(t, canonical.Timestamp.IsZero())

		out, err := ToLegacy(canonical)
		require.NoError(t, err)
		assert.Equal(t, model.LegacyChat, out.Type)
		assert.Equal(t, content, out.Content)
		assert.Equal(t, "alice", out.Sender)
	}
}

func TestChatFallsBackToPayloadField(t *testing.T) {
	in := &model.LegacyMessage{Type: model.LegacyChat, Payload: "old client text"}

	canonical, err := ToCanonical(in, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "old client text", canonical.Content)
}

func TestNoticeBecomesSystemMessage(t *testing.T) {
	in := &model.LegacyMessage{Type: model.LegacyNotice, Payload: "server restarting"}

	canonical, err := ToCanonical(in, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindSystem, canonical.Kind)
	assert.Equal(t, "server restarting", canonical.Content)
	assert.Equal(t, model.SystemSenderID, canonical.SenderID)
}

func TestNameAssignedBecomesJoinAnnouncement(t *testing.T) {
	in := &model.LegacyMessage{Type: model.LegacyNameAssigned, Payload: "brisk-otter-07"}

	canonical, err := ToCanonical(in, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindIdentityJoined, canonical.Kind)
	assert.Equal(t, "brisk-otter-07 joined the chat", canonical.Content)
	assert.Equal(t, "brisk-otter-07", canonical.SenderName)
}

func TestEmptyContentRejected(t *testing.T) {
	for _, in := range []*model.LegacyMessage{
		{Type: model.LegacyChat},
		{Type: model.LegacyChat, Content: "   "},
		{Type: model.LegacyNotice, Payload: "\t\n"},
		{Type: model.LegacyNameAssigned},
	} {
		_, err := ToCanonical(in, "conn-1")
		assert.ErrorIs(t, err, ErrEmptyContent, "type=%s", in.Type)
	}
}

func TestUnknownLegacyKindRejected(t *testing.T) {
	_, err := ToCanonical(&model.LegacyMessage{Type: "handshake"}, "conn-1")
	assert.ErrorIs(t, err, ErrUnknownLegacyKind)

	_, err = ToCanonical(nil, "conn-1")
	assert.ErrorIs(t, err, ErrUnknownLegacyKind)
}

func TestAdministrativeKindsCollapseToNotice(t *testing.T) {
	for _, kind := range []model.MessageKind{model.KindSystem, model.KindIdentityJoined, model.KindIdentityLeft} {
		msg := &model.CanonicalMessage{Kind: kind, Content: "something happened"}

		out, err := ToLegacy(msg)
		require.NoError(t, err, "kind=%s", kind)
		assert.Equal(t, model.LegacyNotice, out.Type)
		assert.Equal(t, "something happened", out.Payload)
	}
}

func TestTypingIndicatorsHaveNoLegacyForm(t *testing.T) {
	for _, kind := range []model.MessageKind{model.KindTypingStart, model.KindTypingStop} {
		_, err := ToLegacy(&model.CanonicalMessage{Kind: kind})
		assert.ErrorIs(t, err, ErrUnsupportedKind, "kind=%s", kind)
	}

	_, err := ToLegacy(nil)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestToLegacyStripsRoutingState(t *testing.T) {
	msg := &model.CanonicalMessage{
		ID:       "id-1",
		Kind:     model.KindChat,
		Content:  "hi",
		Origin:   model.OriginEnterprise,
		HopCount: 2,
	}

	out, err := ToLegacy(msg)
	require.NoError(t, err)

	raw, err := out.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "id-1")
	assert.NotContains(t, string(raw), "hopCount")
	assert.NotContains(t, string(raw), "origin")
}

func TestIsValidLegacyShape(t *testing.T) {
	assert.True(t, IsValidLegacyShape(&model.LegacyMessage{Type: model.LegacyChat, Content: "x"}))
	assert.True(t, IsValidLegacyShape(&model.LegacyMessage{Type: model.LegacyChat, Payload: "x"}))
	assert.True(t, IsValidLegacyShape(&model.LegacyMessage{Type: model.LegacyNotice, Payload: "x"}))
	assert.False(t, IsValidLegacyShape(&model.LegacyMessage{Type: model.LegacyChat, Content: "  "}))
	assert.False(t, IsValidLegacyShape(&model.LegacyMessage{Type: model.LegacyPing}))
	assert.False(t, IsValidLegacyShape(&model.LegacyMessage{Type: "bogus", Content: "x"}))
	assert.False(t, IsValidLegacyShape(nil))
}
