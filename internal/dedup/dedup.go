// Package dedup suppresses re-processing of recently seen message ids.
package dedup

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultHorizon is how long a message id is remembered.
	DefaultHorizon = 60 * time.Second

	// DefaultCapacity caps the recent-set so memory stays bounded by
	// horizon length x traffic rate even under pathological load.
	DefaultCapacity = 65536
)

// Deduplicator is a time-windowed set of recently seen message identifiers.
// Safe for concurrent use; entries expire after the horizon regardless of
// traffic.
type Deduplicator struct {
	// mu makes the check-then-insert atomic; the LRU itself is
	// thread-safe but two concurrent first sights must not both pass.
	mu      sync.Mutex
	seen    *expirable.LRU[string, struct{}]
	horizon time.Duration
}

func New(horizon time.Duration, capacity int) *Deduplicator {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Deduplicator{
		seen:    expirable.NewLRU[string, struct{}](capacity, nil, horizon),
		horizon: horizon,
	}
}

// ShouldProcess reports whether a message with the given id may proceed.
// An empty id is always processable: very old producers predate message ids
// and are exempt from dedup. Otherwise the first call within the horizon
// returns true and records the id; repeats return false until it expires.
func (d *Deduplicator) ShouldProcess(messageID string) bool {
	if messageID == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// Get rather than Contains: it treats a not-yet-collected expired
	// entry as absent.
	if _, found := d.seen.Get(messageID); found {
		return false
	}
	d.seen.Add(messageID, struct{}{})
	return true
}

// Len returns the number of ids currently remembered.
func (d *Deduplicator) Len() int { return d.seen.Len() }

// Horizon returns the configured expiry window.
func (d *Deduplicator) Horizon() time.Duration { return d.horizon }
