// Package alerts contains the anomaly detector and the alert service that
// buffers, dedups and fans out its signals.
package alerts

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
)

const (
	dedupWindow = 60 * time.Second
	bufferCap   = 500
)

// Subscriber receives each accepted alert. Alerts must be treated as
// read-only; a panicking subscriber is recovered and does not block others.
type Subscriber func(*models.Alert)

// Service is the central alert buffer: a bounded ring of recent alerts, a
// per-(type, symbol) dedup cooldown, and ordered subscriber notification.
type Service struct {
	buffer      []*models.Alert
	cooldowns   map[cooldownKey]time.Time
	subscribers []Subscriber
	reg         *metrics.Registry
	now         func() time.Time
}

type cooldownKey struct {
	alertType models.AlertType
	symbol    string
}

// NewService builds an empty alert service. reg may be nil in tests.
func NewService(reg *metrics.Registry) *Service {
	return &Service{
		cooldowns: make(map[cooldownKey]time.Time),
		reg:       reg,
		now:       time.Now,
	}
}

// Register accepts or dedups an alert. A previous accept for the same
// (type, symbol) within the cooldown window rejects the new one. Accepted
// alerts are appended to the ring (evicting the oldest past capacity) and
// pushed to every subscriber in registration order.
func (s *Service) Register(a *models.Alert) bool {
	key := cooldownKey{alertType: a.Type, symbol: a.Symbol}
	now := s.now()

	if last, ok := s.cooldowns[key]; ok && now.Sub(last) < dedupWindow {
		log.Debug().
			Str("type", string(a.Type)).
			Str("symbol", a.Symbol).
			Msg("alert deduped within cooldown")
		return false
	}

	s.cooldowns[key] = now
	s.buffer = append(s.buffer, a)
	if len(s.buffer) > bufferCap {
		s.buffer = s.buffer[len(s.buffer)-bufferCap:]
	}
	if s.reg != nil {
		s.reg.AlertsFired.WithLabelValues(string(a.Type)).Inc()
	}
	log.Info().
		Str("severity", string(a.Severity)).
		Str("type", string(a.Type)).
		Str("symbol", a.Symbol).
		Msg(a.Message)

	for _, sub := range s.subscribers {
		s.notify(sub, a)
	}
	return true
}

func (s *Service) notify(sub Subscriber, a *models.Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("alert subscriber panicked")
		}
	}()
	sub(a)
}

// Subscribe registers a consumer for future alerts.
func (s *Service) Subscribe(sub Subscriber) {
	s.subscribers = append(s.subscribers, sub)
}

// Recent returns up to limit alerts, newest first. Empty filter strings
// match everything.
func (s *Service) Recent(limit int, typeFilter models.AlertType, severityFilter models.AlertSeverity) []*models.Alert {
	out := make([]*models.Alert, 0, limit)
	for i := len(s.buffer) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.buffer[i]
		if typeFilter != "" && a.Type != typeFilter {
			continue
		}
		if severityFilter != "" && a.Severity != severityFilter {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Len reports the number of buffered alerts.
func (s *Service) Len() int {
	return len(s.buffer)
}

// ResetDaily clears the ring and all cooldowns. Subscribers persist.
func (s *Service) ResetDaily() {
	s.buffer = nil
	s.cooldowns = make(map[cooldownKey]time.Time)
	log.Info().Msg("alert service daily reset complete")
}
