// Package runloop provides the single-goroutine core that owns all mutable
// market state. Upstream reader threads, timers, HTTP handlers and schedulers
// never touch tracker maps directly; they submit closures here, which keeps
// per-symbol processing in arrival order without fine-grained locks.
package runloop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrStopped is returned when work is submitted after Stop.
var ErrStopped = errors.New("runloop: stopped")

const defaultQueueSize = 4096

// Loop runs submitted closures one at a time on a dedicated goroutine.
type Loop struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a stopped loop; call Start to begin processing.
func New() *Loop {
	return &Loop{
		tasks: make(chan func(), defaultQueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			l.invoke(fn)
		case <-l.quit:
			// Drain what was accepted before shutdown.
			for {
				select {
				case fn := <-l.tasks:
					l.invoke(fn)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("runloop task panicked")
		}
	}()
	fn()
}

// Submit schedules fn on the loop. It preserves submission order per caller
// and blocks briefly when the queue is full (backpressure on the producer).
// Returns false once the loop is stopped.
func (l *Loop) Submit(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. Must not be called from
// the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Submit(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains accepted work and shuts the loop down. Safe to call more than
// once; waits for the drain to finish or ctx to expire.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.quit) })
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
