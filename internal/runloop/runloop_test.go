package runloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitPreservesOrder(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop(context.Background())

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Submit(func() { got = append(got, i) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Do(ctx, func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDoRoundTrip(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop(context.Background())

	var x int
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Do(ctx, func() { x = 42 }))
	assert.Equal(t, 42, x)
}

func TestStopDrainsQueuedWork(t *testing.T) {
	l := New()
	l.Start()

	var n int
	for i := 0; i < 50; i++ {
		l.Submit(func() { n++ })
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, 50, n)

	assert.False(t, l.Submit(func() {}), "submit after stop must be rejected")
}

func TestPanicInTaskDoesNotKillLoop(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop(context.Background())

	l.Submit(func() { panic("boom") })

	var ok bool
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Do(ctx, func() { ok = true }))
	assert.True(t, ok)
}
