package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/runloop"
)

// fakeStreamer scripts a sequence of sessions: each entry is either a dial
// failure (connect=false) or an established session that blocks until
// released or closed.
type fakeStreamer struct {
	mu       sync.Mutex
	script   []bool
	attempts int
	release  chan struct{}
	closed   chan struct{}
}

func newFakeStreamer(script ...bool) *fakeStreamer {
	return &fakeStreamer{
		script:  script,
		release: make(chan struct{}, 8),
		closed:  make(chan struct{}, 8),
	}
}

func (f *fakeStreamer) Run(ctx context.Context, channels []string, onConnect func(), onMessage func([]byte)) error {
	f.mu.Lock()
	i := f.attempts
	f.attempts++
	f.mu.Unlock()

	if i < len(f.script) && !f.script[i] {
		return errors.New("dial refused")
	}
	if onConnect != nil {
		onConnect()
	}
	select {
	case <-f.release:
		return errors.New("session dropped")
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return errors.New("closed")
	}
}

func (f *fakeStreamer) Close() { f.closed <- struct{}{} }

func (f *fakeStreamer) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
	items []*models.ForeignEvent
	err   error
}

func (f *fakeSnapshots) Securities(ctx context.Context, exchange string) ([]*models.ForeignEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.items, f.err
}

func (f *fakeSnapshots) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

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

// fastBackoff keeps test wall time small.
func fastBackoff(s *Supervisor) {
	s.baseBackoff = 5 * time.Millisecond
	s.maxBackoff = 20 * time.Millisecond
	s.confirmAfter = 30 * time.Millisecond
}

func TestSupervisorStreamsAndStops(t *testing.T) {
	client := newFakeStreamer(true)
	sup := New(Config{Client: client, Loop: newLoop(t)})
	fastBackoff(sup)

	require.NoError(t, sup.Connect([]string{"X-TRADE:ALL"}))
	require.Eventually(t, sup.Connected, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Disconnect(ctx))
	assert.Equal(t, StateStopped, sup.State())
	assert.False(t, sup.Connected())
}

func TestSupervisorRetriesFailedDials(t *testing.T) {
	client := newFakeStreamer(false, false, true)
	sup := New(Config{Client: client, Loop: newLoop(t)})
	fastBackoff(sup)

	require.NoError(t, sup.Connect(nil))
	require.Eventually(t, sup.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, client.attemptCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Disconnect(ctx))
}

func TestSupervisorReconcilesAfterReconnect(t *testing.T) {
	loop := newLoop(t)
	client := newFakeStreamer(true, true)
	snaps := &fakeSnapshots{items: []*models.ForeignEvent{
		{Symbol: "VNM", FBuyVol: 100},
		{Symbol: "HPG", FBuyVol: 200},
	}}

	var mu sync.Mutex
	var reconciled []string
	disconnects, reconnects := 0, 0
	sup := New(Config{
		Client:    client,
		Snapshots: snaps,
		Loop:      loop,
		Reconcile: func(ev *models.ForeignEvent) {
			mu.Lock()
			reconciled = append(reconciled, ev.Symbol)
			mu.Unlock()
		},
		OnDisconnect: func() { mu.Lock(); disconnects++; mu.Unlock() },
		OnReconnect:  func() { mu.Lock(); reconnects++; mu.Unlock() },
	})
	fastBackoff(sup)

	require.NoError(t, sup.Connect(nil))
	require.Eventually(t, sup.Connected, time.Second, 5*time.Millisecond)

	// No reconcile on the first session.
	assert.Equal(t, 0, snaps.callCount())

	// Drop the session; the supervisor reconnects and reconciles.
	client.release <- struct{}{}
	require.Eventually(t, func() bool {
		return client.attemptCount() == 2 && sup.Connected()
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reconnects == 1 && len(reconciled) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"VNM", "HPG"}, reconciled)
	assert.Equal(t, 1, disconnects)
	mu.Unlock()
	assert.Equal(t, 1, snaps.callCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Disconnect(ctx))
}

func TestSupervisorReconnectHookFiresDespiteSnapshotError(t *testing.T) {
	client := newFakeStreamer(true, true)
	snaps := &fakeSnapshots{err: errors.New("rest down")}

	var mu sync.Mutex
	reconnects := 0
	sup := New(Config{
		Client:      client,
		Snapshots:   snaps,
		Loop:        newLoop(t),
		Reconcile:   func(*models.ForeignEvent) {},
		OnReconnect: func() { mu.Lock(); reconnects++; mu.Unlock() },
	})
	fastBackoff(sup)

	require.NoError(t, sup.Connect(nil))
	require.Eventually(t, sup.Connected, time.Second, 5*time.Millisecond)
	client.release <- struct{}{}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reconnects == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Disconnect(ctx))
}

func TestSupervisorConnectTwiceFails(t *testing.T) {
	client := newFakeStreamer(true)
	sup := New(Config{Client: client, Loop: newLoop(t)})
	fastBackoff(sup)

	require.NoError(t, sup.Connect(nil))
	require.Error(t, sup.Connect(nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Disconnect(ctx))
}
