package store

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/chat-bridge-service/internal/domain/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func scanPrefix(t *testing.T, s *Store, prefix string) map[string][]byte {
	t.Helper()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	require.NoError(t, err)
	defer iter.Close()

	out := make(map[string][]byte)
	for iter.First(); iter.Valid(); iter.Next() {
		val := make([]byte, len(iter.Value()))
		copy(val, iter.Value())
		out[string(iter.Key())] = val
	}
	return out
}

func TestPersistMessage(t *testing.T) {
	s := openTestStore(t)

	msg := &model.CanonicalMessage{
		ID:        "msg-1",
		Kind:      model.KindChat,
		Content:   "hello",
		SenderID:  "id-alice",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Origin:    model.OriginEnterprise,
	}

	key, err := s.PersistMessage(msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "msg/"))
	assert.True(t, strings.HasSuffix(key, "/msg-1"))

	stored := scanPrefix(t, s, "msg/")
	require.Len(t, stored, 1)

	var got model.CanonicalMessage
	require.NoError(t, json.Unmarshal(stored[key], &got))
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, model.OriginEnterprise, got.Origin)
}

func TestMessageKeysOrderByTimestamp(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var keys []string
	// Written out of order on purpose.
	for _, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		key, err := s.PersistMessage(&model.CanonicalMessage{
			ID:        "msg-" + offset.String(),
			Kind:      model.KindChat,
			Content:   "x",
			Timestamp: base.Add(offset),
		})
		require.NoError(t, err)
		keys = append(keys, key)
	}

	assert.Less(t, keys[1], keys[2])
	assert.Less(t, keys[2], keys[0])
}

func TestRecordAudit(t *testing.T) {
	s := openTestStore(t)

	s.RecordAudit("login.failed", "id-alice",
		map[string]string{"reason": "invalid token"},
		false, "10.0.0.1:5000", "test-agent")

	stored := scanPrefix(t, s, "audit/")
	require.Len(t, stored, 1)

	for _, raw := range stored {
		var entry AuditEntry
		require.NoError(t, json.Unmarshal(raw, &entry))
		assert.Equal(t, "login.failed", entry.EventKind)
		assert.Equal(t, "id-alice", entry.SubjectID)
		assert.Equal(t, "invalid token", entry.Details["reason"])
		assert.False(t, entry.Success)
		assert.Equal(t, "10.0.0.1:5000", entry.RemoteAddr)
		assert.False(t, entry.At.IsZero())
	}
}
