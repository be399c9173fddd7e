package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives window expiry deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWindowExhaustionAndReset(t *testing.T) {
	clock := newFakeClock()
	l := New(
		WithRule(KindMessage, Rule{Max: 30, Window: time.Minute}),
		WithClock(clock.Now),
	)

	for i := 1; i <= 30; i++ {
		res := l.CheckMessageRate("u1")
		require.True(t, res.Allowed, "send %d must pass", i)
		assert.Equal(t, 30-i, res.Remaining)
	}

	res := l.CheckMessageRate("u1")
	assert.False(t, res.Allowed, "the 31st send must be rejected")
	assert.Equal(t, 0, res.Remaining)

	// Past the reset the subject gets a fresh window.
	clock.Advance(61 * time.Second)
	res = l.CheckMessageRate("u1")
	assert.True(t, res.Allowed)
	assert.Equal(t, 29, res.Remaining)
}

func TestSubjectsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(
		WithRule(KindMessage, Rule{Max: 1, Window: time.Minute}),
		WithClock(clock.Now),
	)

	assert.True(t, l.CheckMessageRate("u1").Allowed)
	assert.False(t, l.CheckMessageRate("u1").Allowed)
	assert.True(t, l.CheckMessageRate("u2").Allowed, "u2 is not affected by u1's window")
}

func TestKindsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(
		WithRule(KindMessage, Rule{Max: 1, Window: time.Minute}),
		WithRule(KindConnection, Rule{Max: 1, Window: time.Minute}),
		WithClock(clock.Now),
	)

	assert.True(t, l.CheckMessageRate("subject").Allowed)
	assert.False(t, l.CheckMessageRate("subject").Allowed)
	assert.True(t, l.CheckConnectionRate("subject").Allowed, "connection window is separate")
}

func TestBlockAndExpiry(t *testing.T) {
	clock := newFakeClock()
	l := New(
		WithBlockDuration(15*time.Minute),
		WithClock(clock.Now),
	)

	assert.False(t, l.IsBlocked("10.0.0.1"))

	l.Block("10.0.0.1")
	assert.True(t, l.IsBlocked("10.0.0.1"))

	clock.Advance(14 * time.Minute)
	assert.True(t, l.IsBlocked("10.0.0.1"))

	clock.Advance(2 * time.Minute)
	assert.False(t, l.IsBlocked("10.0.0.1"))
}

func TestSupersedingBlockReplacesDuration(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	l.BlockFor("10.0.0.1", time.Hour)
	// A shorter superseding block replaces, never extends.
	l.BlockFor("10.0.0.1", time.Minute)

	clock.Advance(2 * time.Minute)
	assert.False(t, l.IsBlocked("10.0.0.1"))
}

func TestSweepReclaimsExpiredState(t *testing.T) {
	clock := newFakeClock()
	l := New(
		WithRule(KindMessage, Rule{Max: 5, Window: time.Minute}),
		WithSweepGrace(5*time.Minute),
		WithBlockDuration(time.Minute),
		WithClock(clock.Now),
	)

	l.CheckMessageRate("u1")
	l.Block("10.0.0.1")
	assert.Equal(t, Stats{ActiveWindows: 1, BlockedSubjects: 1}, l.Stats())

	// Window expired but still within grace: survives the sweep.
	clock.Advance(90 * time.Second)
	l.Sweep()
	assert.Equal(t, 1, l.Stats().ActiveWindows)

	clock.Advance(10 * time.Minute)
	l.Sweep()
	assert.Equal(t, Stats{ActiveWindows: 0, BlockedSubjects: 0}, l.Stats())
}

func TestConcurrentChecksNeverOvershoot(t *testing.T) {
	l := New(WithRule(KindMessage, Rule{Max: 50, Window: time.Minute}))

	const attempts = 200
	var wg sync.WaitGroup
	allowed := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckMessageRate("u1").Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	assert.Equal(t, 50, count)
}

func TestUnknownKindIsUnlimited(t *testing.T) {
	l := New()
	res := l.Check(Kind("unheard-of"), "x")
	assert.True(t, res.Allowed)
}
