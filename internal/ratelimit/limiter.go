// Package ratelimit implements sliding-window counters keyed by
// (subject, kind) plus an IP block list.
//
// A window opens on the first action and resets a fixed interval after it
// opened, bounding actions per subject per interval. Subjects are identity
// ids, remote addresses, or credential identifiers depending on the kind.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind distinguishes the independently tracked counters per subject.
type Kind string

const (
	KindMessage    Kind = "message-send"
	KindConnection Kind = "connection-attempt"
	KindLogin      Kind = "login-attempt"
)

// Rule bounds one kind: at most Max actions per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Result is the outcome of a single check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count          int
	resetAt        time.Time
	lastActivityAt time.Time
}

type key struct {
	kind    Kind
	subject string
}

// Limiter tracks sliding windows and blocked addresses. All methods are safe
// for concurrent use; windows and blocks sit behind separate locks so message
// traffic does not serialize against admission checks.
type Limiter struct {
	rules map[Kind]Rule

	blockDuration time.Duration
	sweepGrace    time.Duration

	mu      sync.Mutex
	windows map[key]*window

	blockMu sync.Mutex
	blocked map[string]time.Time

	sweeping atomic.Bool

	// now is injectable for deterministic window tests.
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRule overrides the bound for one kind.
func WithRule(kind Kind, rule Rule) Option {
	return func(l *Limiter) { l.rules[kind] = rule }
}

// WithBlockDuration sets how long Block entries last by default.
func WithBlockDuration(d time.Duration) Option {
	return func(l *Limiter) { l.blockDuration = d }
}

// WithSweepGrace sets how long an expired window survives before Sweep
// reclaims it.
func WithSweepGrace(d time.Duration) Option {
	return func(l *Limiter) { l.sweepGrace = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		rules: map[Kind]Rule{
			KindMessage:    {Max: 30, Window: time.Minute},
			KindConnection: {Max: 10, Window: time.Minute},
			KindLogin:      {Max: 5, Window: 5 * time.Minute},
		},
		blockDuration: 15 * time.Minute,
		sweepGrace:    5 * time.Minute,
		windows:       make(map[key]*window),
		blocked:       make(map[string]time.Time),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one action of the given kind against the subject and reports
// whether it stays within the bound.
func (l *Limiter) Check(kind Kind, subject string) Result {
	rule, ok := l.rules[kind]
	if !ok || rule.Max <= 0 {
		return Result{Allowed: true}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{kind: kind, subject: subject}
	w := l.windows[k]
	if w == nil || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(rule.Window)}
		l.windows[k] = w
	}
	w.count++
	w.lastActivityAt = now

	remaining := rule.Max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= rule.Max,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// CheckMessageRate counts one message send for the subject (an identity id
// for enterprise senders, a remote address for legacy ones).
func (l *Limiter) CheckMessageRate(subject string) Result {
	return l.Check(KindMessage, subject)
}

// CheckConnectionRate counts one connection attempt for the remote address.
func (l *Limiter) CheckConnectionRate(remoteAddr string) Result {
	return l.Check(KindConnection, remoteAddr)
}

// CheckLoginRate counts one credential-verification attempt.
func (l *Limiter) CheckLoginRate(credential string) Result {
	return l.Check(KindLogin, credential)
}

// Block refuses new activity from the remote address for the default block
// duration. A superseding block replaces the duration rather than extending it.
func (l *Limiter) Block(remoteAddr string) {
	l.BlockFor(remoteAddr, l.blockDuration)
}

// BlockFor is Block with an explicit duration.
func (l *Limiter) BlockFor(remoteAddr string, d time.Duration) {
	until := l.now().Add(d)
	l.blockMu.Lock()
	l.blocked[remoteAddr] = until
	l.blockMu.Unlock()
}

// IsBlocked reports whether the remote address is currently refused.
// An expired entry is treated as absent; Sweep reclaims it later.
func (l *Limiter) IsBlocked(remoteAddr string) bool {
	l.blockMu.Lock()
	until, ok := l.blocked[remoteAddr]
	l.blockMu.Unlock()
	return ok && l.now().Before(until)
}

// Stats is a point-in-time snapshot for the stats surface.
type Stats struct {
	ActiveWindows   int `json:"active_windows"`
	BlockedSubjects int `json:"blocked_subjects"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	windows := len(l.windows)
	l.mu.Unlock()

	now := l.now()
	blocked := 0
	l.blockMu.Lock()
	for _, until := range l.blocked {
		if now.Before(until) {
			blocked++
		}
	}
	l.blockMu.Unlock()

	return Stats{ActiveWindows: windows, BlockedSubjects: blocked}
}

// Sweep reclaims windows whose reset has passed and that have been inactive
// beyond the grace period, and drops expired blocks. At most one sweep runs
// at a time; overlapping calls return immediately.
func (l *Limiter) Sweep() {
	if !l.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer l.sweeping.Store(false)

	now := l.now()

	l.mu.Lock()
	for k, w := range l.windows {
		if now.After(w.resetAt) && now.Sub(w.lastActivityAt) > l.sweepGrace {
			delete(l.windows, k)
		}
	}
	l.mu.Unlock()

	l.blockMu.Lock()
	for addr, until := range l.blocked {
		if !now.Before(until) {
			delete(l.blocked, addr)
		}
	}
	l.blockMu.Unlock()
}
