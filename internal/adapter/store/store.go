// Package store persists messages and the audit trail in an embedded pebble
// database. Nothing in the broadcast path blocks on it: messages are
// persisted by the transport layer around the broadcast call, and audit
// writes are fire-and-forget.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/relaychat/chat-bridge-service/internal/domain/model"
)

// Store wraps a single pebble database with two key spaces:
// msg/<ts>/<id> and audit/<ts>/<id>. Timestamp-prefixed keys keep both
// histories in insertion order for range scans.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PersistMessage stores one canonical message and returns its stored id.
func (s *Store) PersistMessage(msg *model.CanonicalMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("store: marshal message: %w", err)
	}
	key := fmt.Sprintf("msg/%020d/%s", msg.Timestamp.UnixNano(), msg.ID)
	if err := s.db.Set([]byte(key), data, pebble.NoSync); err != nil {
		return "", fmt.Errorf("store: persist message: %w", err)
	}
	return key, nil
}

// AuditEntry is one record of the security-relevant event trail.
type AuditEntry struct {
	EventKind  string            `json:"event_kind"`
	SubjectID  string            `json:"subject_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Success    bool              `json:"success"`
	RemoteAddr string            `json:"remote_addr"`
	UserAgent  string            `json:"user_agent,omitempty"`
	At         time.Time         `json:"at"`
}

// RecordAudit writes one audit entry. Failures are logged and swallowed;
// auditing must never affect broadcast behaviour.
func (s *Store) RecordAudit(eventKind, subjectID string, details map[string]string, success bool, remoteAddr, userAgent string) {
	entry := AuditEntry{
		EventKind:  eventKind,
		SubjectID:  subjectID,
		Details:    details,
		Success:    success,
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		At:         time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("audit marshal failed", slog.String("event_kind", eventKind), slog.Any("err", err))
		return
	}
	key := fmt.Sprintf("audit/%020d/%s", entry.At.UnixNano(), uuid.NewString())
	if err := s.db.Set([]byte(key), data, pebble.NoSync); err != nil {
		s.logger.Warn("audit write failed", slog.String("event_kind", eventKind), slog.Any("err", err))
	}
}
