// Package stream supervises the upstream market-data connection: it keeps
// one streaming session alive, backs off on failure, and reconciles
// cumulative state after every reconnect.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/runloop"
)

// State of the supervised connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Streamer is one blocking streaming session (ssi.StreamClient).
type Streamer interface {
	Run(ctx context.Context, channels []string, onConnect func(), onMessage func([]byte)) error
	Close()
}

// SnapshotFetcher provides the per-symbol REST snapshot used to re-seed
// cumulative baselines after a gap (ssi.RestClient).
type SnapshotFetcher interface {
	Securities(ctx context.Context, exchange string) ([]*models.ForeignEvent, error)
}

// Config wires a Supervisor.
type Config struct {
	Client    Streamer
	Snapshots SnapshotFetcher
	Loop      *runloop.Loop

	// Reconcile runs on the loop for each snapshot item after a reconnect.
	Reconcile func(*models.ForeignEvent)
	// OnMessage receives every raw frame (the demux).
	OnMessage func([]byte)
	// OnDisconnect fires when an established session drops unexpectedly.
	OnDisconnect func()
	// OnReconnect fires after a re-established session has been reconciled.
	OnReconnect func()
}

// Supervisor owns the reconnect policy: exponential backoff from 2s doubling
// to a 60s cap, reset once a session survives the confirm window. Exactly one
// session (and one reconnect attempt) is in flight at any time.
type Supervisor struct {
	cfg Config

	baseBackoff  time.Duration
	maxBackoff   time.Duration
	confirmAfter time.Duration

	state atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds an idle supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		baseBackoff:  2 * time.Second,
		maxBackoff:   60 * time.Second,
		confirmAfter: 3 * time.Second,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Connected reports whether a session is currently streaming.
func (s *Supervisor) Connected() bool {
	return s.State() == StateStreaming
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// Connect starts the supervision goroutine subscribing to channels. It
// returns immediately; dial failures are retried, never surfaced.
func (s *Supervisor) Connect(channels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, channels)
	return nil
}

// Disconnect stops the session and waits for the supervision goroutine,
// bounded by ctx.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	s.cfg.Client.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run(ctx context.Context, channels []string) {
	defer close(s.done)
	defer s.setState(StateStopped)

	backoff := s.baseBackoff
	sessions := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)

		established := false
		isReconnect := sessions > 0
		start := time.Now()
		err := s.cfg.Client.Run(ctx, channels, func() {
			established = true
			sessions++
			s.setState(StateStreaming)
			if isReconnect {
				go s.reconcileAfterReconnect(ctx)
			}
		}, s.cfg.OnMessage)
		if ctx.Err() != nil {
			return
		}

		if established {
			log.Warn().Err(err).Msg("market stream dropped")
			if s.cfg.OnDisconnect != nil {
				s.cfg.OnDisconnect()
			}
		} else {
			log.Warn().Err(err).Msg("market stream connect failed")
		}

		// A session that survived the confirm window earns a fresh backoff.
		if established && time.Since(start) >= s.confirmAfter {
			backoff = s.baseBackoff
		} else {
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		s.setState(StateBackoff)
		log.Info().Dur("backoff", backoff).Msg("reconnecting to market stream")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// reconcileAfterReconnect waits out the confirm window (a session that dies
// again immediately will reconcile on the next attempt instead), then
// re-seeds cumulative per-symbol baselines from the REST snapshot so the
// first post-gap delta is not counted as a burst, and finally tells clients
// the feed is live again.
func (s *Supervisor) reconcileAfterReconnect(ctx context.Context) {
	select {
	case <-time.After(s.confirmAfter):
	case <-ctx.Done():
		return
	}
	if s.State() != StateStreaming {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.cfg.Snapshots != nil && s.cfg.Reconcile != nil {
		snap, err := s.cfg.Snapshots.Securities(fetchCtx, "HOSE")
		if err != nil {
			log.Warn().Err(err).Msg("post-reconnect snapshot failed, baselines resync from stream")
		} else {
			for _, ev := range snap {
				ev := ev
				s.cfg.Loop.Submit(func() { s.cfg.Reconcile(ev) })
			}
			log.Info().Int("symbols", len(snap)).Msg("reconciled baselines after reconnect")
		}
	}

	if s.cfg.OnReconnect != nil {
		s.cfg.OnReconnect()
	}
}
