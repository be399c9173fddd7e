package registry

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sink is the write side of a live socket. The transport handler owns the
// actual pump; the registry and engine only ever see this narrow surface.
type Sink interface {
	// Send enqueues one frame without blocking. False means the frame was
	// not accepted (socket closed or outbox saturated); the caller treats
	// the connection as failed.
	Send(data []byte) bool

	// Close tears the transport down. Must be idempotent.
	Close()
}

// Identity is the verified principal behind an enterprise connection.
type Identity struct {
	ID          string
	DisplayName string
	Role        string
}

// EnterpriseConn is one live socket from the enterprise population.
// Created on successful handshake, destroyed on close/error/eviction;
// lifecycle is owned exclusively by the Registry.
type EnterpriseConn struct {
	ID          uuid.UUID
	IdentityID  string
	DisplayName string
	Role        string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	lastActivityAt atomic.Int64
	sink           Sink
}

// Send forwards one frame to the transport, non-blocking.
func (c *EnterpriseConn) Send(data []byte) bool { return c.sink.Send(data) }

// Touch records inbound activity.
func (c *EnterpriseConn) Touch() { c.lastActivityAt.Store(time.Now().UnixNano()) }

// LastActivityAt returns the time of the most recent inbound frame.
func (c *EnterpriseConn) LastActivityAt() time.Time {
	return time.Unix(0, c.lastActivityAt.Load())
}

// LegacyConn is one live socket from the legacy population. The display name
// is server-generated, never derived from credentials.
type LegacyConn struct {
	ID           uuid.UUID
	AssignedName string
	RemoteAddr   string
	ConnectedAt  time.Time

	lastActivityAt atomic.Int64
	sink           Sink
}

// Send forwards one frame to the transport, non-blocking.
func (c *LegacyConn) Send(data []byte) bool { return c.sink.Send(data) }

// Touch records inbound activity.
func (c *LegacyConn) Touch() { c.lastActivityAt.Store(time.Now().UnixNano()) }

// LastActivityAt returns the time of the most recent inbound frame.
func (c *LegacyConn) LastActivityAt() time.Time {
	return time.Unix(0, c.lastActivityAt.Load())
}
