package sweep

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTasksFirePeriodically(t *testing.T) {
	var ticks atomic.Int64
	s := NewScheduler(10*time.Millisecond, testLogger(), func() { ticks.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, ticks.Load(), int64(3))
}

func TestStopHaltsTheLoop(t *testing.T) {
	var ticks atomic.Int64
	s := NewScheduler(5*time.Millisecond, testLogger(), func() { ticks.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop returns")
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestTasksRunInOrder(t *testing.T) {
	var first, second atomic.Int64
	s := NewScheduler(10*time.Millisecond, testLogger(),
		func() { first.Add(1) },
		func() {
			// The second task always trails the first within a pass.
			assert.Greater(t, first.Load(), second.Load())
			second.Add(1)
		},
	)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for second.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, second.Load(), int64(2))
}
