// Package registry owns the authoritative set of live connections for both
// client populations.
//
// It is the only component allowed to mutate connection lifecycle state. The
// two pools sit behind separate locks so enterprise and legacy traffic do not
// serialize against each other; within a pool, the connection map and its
// side indices are only ever updated together under the same lock.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCapacityExceeded rejects an admission that would cross the
	// per-identity cap or the global legacy cap.
	ErrCapacityExceeded = errors.New("registry: capacity exceeded")

	// ErrIdentityInactive rejects an admission whose identity the
	// directory reports as inactive or unknown.
	ErrIdentityInactive = errors.New("registry: identity inactive")
)

// IdentityChecker is the narrow directory capability admission needs.
type IdentityChecker interface {
	IsIdentityActive(ctx context.Context, identityID string) bool
}

// PresenceNotifier receives the "left" event for an evicted connection. It is
// invoked after all registry locks are released, so implementations may fan
// out through the registry again.
type PresenceNotifier interface {
	IdentityLeft(displayName, identityID string)
}

// Counts is an atomic snapshot of pool occupancy.
type Counts struct {
	Enterprise         int `json:"enterprise"`
	EnterpriseIdentity int `json:"enterprise_identities"`
	Legacy             int `json:"legacy"`
}

// Registry tracks, admits, and evicts connections for both populations.
type Registry struct {
	cfg     Config
	checker IdentityChecker
	logger  *slog.Logger

	// notifier is attached after construction; the engine that emits
	// "left" events depends on the registry itself.
	notifierMu sync.RWMutex
	notifier   PresenceNotifier

	entMu      sync.RWMutex
	enterprise map[uuid.UUID]*EnterpriseConn
	byIdentity map[string]map[uuid.UUID]struct{}

	legMu       sync.RWMutex
	legacy      map[uuid.UUID]*LegacyConn
	legacyNames map[string]struct{}
}

// Config bounds the two pools.
type Config struct {
	// MaxPerIdentity caps concurrent enterprise connections per identity.
	MaxPerIdentity int
	// MaxLegacy caps total legacy connections.
	MaxLegacy int
}

const (
	DefaultMaxPerIdentity = 5
	DefaultMaxLegacy      = 100
)

func New(cfg Config, checker IdentityChecker, logger *slog.Logger) *Registry {
	if cfg.MaxPerIdentity <= 0 {
		cfg.MaxPerIdentity = DefaultMaxPerIdentity
	}
	if cfg.MaxLegacy <= 0 {
		cfg.MaxLegacy = DefaultMaxLegacy
	}
	return &Registry{
		cfg:         cfg,
		checker:     checker,
		logger:      logger,
		enterprise:  make(map[uuid.UUID]*EnterpriseConn),
		byIdentity:  make(map[string]map[uuid.UUID]struct{}),
		legacy:      make(map[uuid.UUID]*LegacyConn),
		legacyNames: make(map[string]struct{}),
	}
}

// SetNotifier attaches the presence notifier. Must be called before traffic;
// wiring happens once during startup.
func (r *Registry) SetNotifier(n PresenceNotifier) {
	r.notifierMu.Lock()
	r.notifier = n
	r.notifierMu.Unlock()
}

// AdmitEnterprise registers a verified enterprise socket. The identity's live
// connection count is checked and the connection inserted under one critical
// section, so the cap holds under concurrent admission attempts. Rejections
// are typed; the caller closes the rejected socket.
func (r *Registry) AdmitEnterprise(ctx context.Context, identity Identity, sink Sink, remoteAddr, userAgent string) (*EnterpriseConn, error) {
	if r.checker != nil && !r.checker.IsIdentityActive(ctx, identity.ID) {
		return nil, ErrIdentityInactive
	}

	conn := &EnterpriseConn{
		ID:          uuid.New(),
		IdentityID:  identity.ID,
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		sink:        sink,
	}
	conn.Touch()

	r.entMu.Lock()
	if len(r.byIdentity[identity.ID]) >= r.cfg.MaxPerIdentity {
		r.entMu.Unlock()
		return nil, ErrCapacityExceeded
	}
	r.enterprise[conn.ID] = conn
	set, ok := r.byIdentity[identity.ID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.byIdentity[identity.ID] = set
	}
	set[conn.ID] = struct{}{}
	r.entMu.Unlock()

	r.logger.Info("enterprise connection admitted",
		slog.String("conn_id", conn.ID.String()),
		slog.String("identity_id", identity.ID),
		slog.String("remote_addr", remoteAddr),
	)
	return conn, nil
}

// AdmitLegacy registers a legacy socket, generating a display name that does
// not collide with any currently assigned one.
func (r *Registry) AdmitLegacy(sink Sink, remoteAddr string) (*LegacyConn, error) {
	conn := &LegacyConn{
		ID:          uuid.New(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		sink:        sink,
	}
	conn.Touch()

	r.legMu.Lock()
	if len(r.legacy) >= r.cfg.MaxLegacy {
		r.legMu.Unlock()
		return nil, ErrCapacityExceeded
	}
	conn.AssignedName = r.generateNameLocked()
	r.legacy[conn.ID] = conn
	r.legacyNames[conn.AssignedName] = struct{}{}
	r.legMu.Unlock()

	r.logger.Info("legacy connection admitted",
		slog.String("conn_id", conn.ID.String()),
		slog.String("assigned_name", conn.AssignedName),
		slog.String("remote_addr", remoteAddr),
	)
	return conn, nil
}

// Evict removes the connection from both indices, closes the underlying
// socket if still open, and emits a "left" event for the resolved display
// name. Idempotent: double-eviction is a no-op, not an error.
func (r *Registry) Evict(connID uuid.UUID) {
	if conn := r.removeEnterprise(connID); conn != nil {
		conn.sink.Close()
		r.logger.Info("enterprise connection evicted",
			slog.String("conn_id", connID.String()),
			slog.String("identity_id", conn.IdentityID),
		)
		r.notifyLeft(conn.DisplayName, conn.IdentityID)
		return
	}
	if conn := r.removeLegacy(connID); conn != nil {
		conn.sink.Close()
		r.logger.Info("legacy connection evicted",
			slog.String("conn_id", connID.String()),
			slog.String("assigned_name", conn.AssignedName),
		)
		r.notifyLeft(conn.AssignedName, "legacy-"+connID.String())
	}
}

func (r *Registry) removeEnterprise(connID uuid.UUID) *EnterpriseConn {
	r.entMu.Lock()
	defer r.entMu.Unlock()
	conn, ok := r.enterprise[connID]
	if !ok {
		return nil
	}
	delete(r.enterprise, connID)
	if set, ok := r.byIdentity[conn.IdentityID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byIdentity, conn.IdentityID)
		}
	}
	return conn
}

func (r *Registry) removeLegacy(connID uuid.UUID) *LegacyConn {
	r.legMu.Lock()
	defer r.legMu.Unlock()
	conn, ok := r.legacy[connID]
	if !ok {
		return nil
	}
	delete(r.legacy, connID)
	delete(r.legacyNames, conn.AssignedName)
	return conn
}

func (r *Registry) notifyLeft(displayName, identityID string) {
	r.notifierMu.RLock()
	n := r.notifier
	r.notifierMu.RUnlock()
	if n != nil {
		n.IdentityLeft(displayName, identityID)
	}
}

// ConnectionsOf returns the identity's live enterprise connections.
func (r *Registry) ConnectionsOf(identityID string) []*EnterpriseConn {
	r.entMu.RLock()
	defer r.entMu.RUnlock()
	set := r.byIdentity[identityID]
	out := make([]*EnterpriseConn, 0, len(set))
	for id := range set {
		if conn, ok := r.enterprise[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// AllEnterprise returns a snapshot of the enterprise pool.
func (r *Registry) AllEnterprise() []*EnterpriseConn {
	r.entMu.RLock()
	defer r.entMu.RUnlock()
	out := make([]*EnterpriseConn, 0, len(r.enterprise))
	for _, conn := range r.enterprise {
		out = append(out, conn)
	}
	return out
}

// AllLegacy returns a snapshot of the legacy pool.
func (r *Registry) AllLegacy() []*LegacyConn {
	r.legMu.RLock()
	defer r.legMu.RUnlock()
	out := make([]*LegacyConn, 0, len(r.legacy))
	for _, conn := range r.legacy {
		out = append(out, conn)
	}
	return out
}

// Counts reports pool occupancy.
func (r *Registry) Counts() Counts {
	r.entMu.RLock()
	ent := len(r.enterprise)
	ids := len(r.byIdentity)
	r.entMu.RUnlock()

	r.legMu.RLock()
	leg := len(r.legacy)
	r.legMu.RUnlock()

	return Counts{Enterprise: ent, EnterpriseIdentity: ids, Legacy: leg}
}
