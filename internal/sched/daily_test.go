package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/runloop"
)

func newLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	loop := runloop.New()
	loop.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		loop.Stop(ctx)
	})
	return loop
}

func TestDailyResetRunsJobsInOrder(t *testing.T) {
	loop := newLoop(t)

	var mu sync.Mutex
	var order []string
	d, err := NewDailyReset(time.UTC, "0 0 * * *", loop,
		func() { mu.Lock(); order = append(order, "market"); mu.Unlock() },
		func() { mu.Lock(); order = append(order, "alerts"); mu.Unlock() },
	)
	require.NoError(t, err)

	// Fire directly rather than waiting for the wall clock.
	d.fire()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"market", "alerts"}, order)
	mu.Unlock()
}

func TestDailyResetRejectsBadSpec(t *testing.T) {
	_, err := NewDailyReset(time.UTC, "not a cron spec", newLoop(t))
	require.Error(t, err)
}

func TestDailyResetStartStop(t *testing.T) {
	d, err := NewDailyReset(time.UTC, "5 15 * * *", newLoop(t))
	require.NoError(t, err)

	d.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}
