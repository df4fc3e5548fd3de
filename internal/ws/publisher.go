package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/market"
	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/runloop"
)

// frame is the envelope every channel payload is wrapped in.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type statusFrame struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

// Publisher bridges the run loop to the hub. Each state change notification
// passes a per-channel trailing-edge throttle: a burst of updates inside the
// window collapses into one broadcast at the window edge, so clients see at
// most one frame per channel per window but never miss the final state.
//
// Notify and the broadcast path run on the run loop goroutine; only the
// AfterFunc timer fires elsewhere, and it immediately re-enters the loop.
type Publisher struct {
	loop     *runloop.Loop
	hub      *Hub
	core     *market.Processor
	interval time.Duration
	idle     time.Duration

	last    map[string]time.Time
	pending map[string]bool

	stopIdle chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewPublisher wires the publisher between the processor and the hub.
// throttle is the per-channel window; idle is the cadence of unconditional
// market refreshes when no events arrive.
func NewPublisher(loop *runloop.Loop, hub *Hub, core *market.Processor, throttle, idle time.Duration) *Publisher {
	return &Publisher{
		loop:     loop,
		hub:      hub,
		core:     core,
		interval: throttle,
		idle:     idle,
		last:     make(map[string]time.Time),
		pending:  make(map[string]bool),
		stopIdle: make(chan struct{}),
		now:      time.Now,
	}
}

// Notify requests a broadcast for channel. Must run on the run loop.
func (p *Publisher) Notify(channel string) {
	now := p.now()
	if since := now.Sub(p.last[channel]); since >= p.interval {
		p.last[channel] = now
		p.broadcast(channel)
		return
	} else if p.pending[channel] {
		return
	} else {
		p.pending[channel] = true
		time.AfterFunc(p.interval-since, func() {
			p.loop.Submit(func() {
				p.pending[channel] = false
				p.last[channel] = p.now()
				p.broadcast(channel)
			})
		})
	}
}

// broadcast serializes the channel's current state and pushes it out.
// Channels without clients skip serialization entirely.
func (p *Publisher) broadcast(channel string) {
	if p.hub.ClientCount(channel) == 0 {
		return
	}

	var payload any
	switch channel {
	case market.ChannelMarket:
		payload = p.core.Snapshot()
	case market.ChannelForeign:
		payload = p.core.ForeignSummary()
	case market.ChannelIndex:
		payload = p.core.Indices()
	default:
		return
	}

	data, err := json.Marshal(frame{Type: channel, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to serialize broadcast")
		return
	}
	p.hub.Broadcast(channel, data)
}

// OnAlert pushes one accepted alert to the alerts channel immediately; alerts
// bypass the throttle. Registered as an alert service subscriber, so it runs
// on the run loop.
func (p *Publisher) OnAlert(a *models.Alert) {
	if p.hub.ClientCount(market.ChannelAlerts) == 0 {
		return
	}
	data, err := json.Marshal(frame{Type: "alert", Data: a})
	if err != nil {
		log.Error().Err(err).Msg("failed to serialize alert")
		return
	}
	p.hub.Broadcast(market.ChannelAlerts, data)
}

// OnUpstreamDisconnect tells connected clients the feed is down.
func (p *Publisher) OnUpstreamDisconnect() {
	p.broadcastStatus(false)
}

// OnUpstreamReconnect tells connected clients the feed is back.
func (p *Publisher) OnUpstreamReconnect() {
	p.broadcastStatus(true)
}

func (p *Publisher) broadcastStatus(connected bool) {
	data, err := json.Marshal(statusFrame{Type: "status", Connected: connected})
	if err != nil {
		return
	}
	for _, ch := range []string{market.ChannelMarket, market.ChannelForeign, market.ChannelIndex, market.ChannelAlerts} {
		if p.hub.ClientCount(ch) > 0 {
			p.hub.Broadcast(ch, data)
		}
	}
}

// Start launches the idle refresh: a periodic market-channel broadcast so a
// freshly connected client sees a snapshot within one tick even on a quiet
// tape. No-op when the idle interval is zero.
func (p *Publisher) Start() {
	if p.idle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.idle)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.loop.Submit(func() { p.Notify(market.ChannelMarket) })
			case <-p.stopIdle:
				return
			}
		}
	}()
}

// Stop halts the idle refresh.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopIdle) })
}
