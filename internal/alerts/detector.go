package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/vietquant/vnpulse/internal/models"
)

const (
	volSpikeWindow     = 20 * time.Minute
	volSpikeMultiplier = 3.0
	volSpikeMinSamples = 10
	volHistoryCap      = 1200 // ~20 min at 1 trade/sec

	foreignAccelWindow    = 5 * time.Minute
	foreignAccelThreshold = 0.30
	foreignHistoryCap     = 300 // ~5 min at 1 msg/sec
	foreignMinValue       = 1e9 // ignore noise below 1B VND net value
)

// QuoteRefs supplies regulatory price levels for the breakout check.
// Satisfied by the market quote cache.
type QuoteRefs interface {
	PriceRefs(symbol string) (ref, ceiling, floor float64)
}

type volSample struct {
	ts  time.Time
	vol int64
}

type netSample struct {
	ts  time.Time
	val float64
}

// Detector evaluates the four anomaly rules against tracker state plus its
// own rolling windows, and registers hits with the alert service (which owns
// dedup).
type Detector struct {
	service *Service
	quotes  QuoteRefs

	volHistory     map[string][]volSample
	foreignHistory map[string][]netSample
	prevPremium    *bool

	now func() time.Time
}

// NewDetector wires a detector to its alert sink and quote source.
func NewDetector(service *Service, quotes QuoteRefs) *Detector {
	d := &Detector{service: service, quotes: quotes, now: time.Now}
	d.Reset()
	return d
}

// OnTrade runs the volume-spike and price-breakout checks for one stock trade.
func (d *Detector) OnTrade(symbol string, price float64, vol int64) {
	d.checkVolumeSpike(symbol, price, vol)
	d.checkPriceBreakout(symbol, price)
}

// checkVolumeSpike fires when the current trade volume exceeds three times
// the trailing 20-minute average. At least ten samples (current included)
// are required so a thin tape cannot alert.
func (d *Detector) checkVolumeSpike(symbol string, price float64, vol int64) {
	now := d.now()
	hist := append(d.volHistory[symbol], volSample{ts: now, vol: vol})
	if len(hist) > volHistoryCap {
		hist = hist[len(hist)-volHistoryCap:]
	}
	d.volHistory[symbol] = hist

	cutoff := now.Add(-volSpikeWindow)
	var sum, count int64
	for _, s := range hist {
		if !s.ts.Before(cutoff) {
			sum += s.vol
			count++
		}
	}
	if count < volSpikeMinSamples {
		return
	}
	avg := float64(sum) / float64(count)
	if avg <= 0 {
		return
	}
	ratio := float64(vol) / avg
	if ratio <= volSpikeMultiplier {
		return
	}
	d.service.Register(&models.Alert{
		Type:     models.AlertVolumeSpike,
		Severity: models.SeverityWarning,
		Symbol:   symbol,
		Message:  fmt.Sprintf("%s vol spike: %d (%.1fx avg)", symbol, vol, ratio),
		Data: map[string]any{
			"volume":  vol,
			"average": math.Round(avg*10) / 10,
			"ratio":   math.Round(ratio*10) / 10,
			"price":   price,
		},
		CreatedAt: now,
	})
}

// checkPriceBreakout fires at-or-beyond the regulatory ceiling or floor,
// never on strict crossing only. Symbols without a usable quote are skipped.
func (d *Detector) checkPriceBreakout(symbol string, price float64) {
	_, ceiling, floor := d.quotes.PriceRefs(symbol)
	if ceiling <= 0 || floor <= 0 {
		return
	}

	switch {
	case price >= ceiling:
		d.service.Register(&models.Alert{
			Type:     models.AlertPriceBreakout,
			Severity: models.SeverityCritical,
			Symbol:   symbol,
			Message:  fmt.Sprintf("%s hit ceiling %.2f", symbol, ceiling),
			Data: map[string]any{
				"price":     price,
				"ceiling":   ceiling,
				"direction": "ceiling",
			},
			CreatedAt: d.now(),
		})
	case price <= floor:
		d.service.Register(&models.Alert{
			Type:     models.AlertPriceBreakout,
			Severity: models.SeverityCritical,
			Symbol:   symbol,
			Message:  fmt.Sprintf("%s hit floor %.2f", symbol, floor),
			Data: map[string]any{
				"price":     price,
				"floor":     floor,
				"direction": "floor",
			},
			CreatedAt: d.now(),
		})
	}
}

// OnForeign runs the foreign-acceleration check after a foreign update.
// Fires when net value moved more than 30% against the most recent sample
// at least five minutes old. Positions below 1B VND are ignored as noise.
func (d *Detector) OnForeign(symbol string, netValue float64) {
	now := d.now()
	hist := append(d.foreignHistory[symbol], netSample{ts: now, val: netValue})
	if len(hist) > foreignHistoryCap {
		hist = hist[len(hist)-foreignHistoryCap:]
	}
	d.foreignHistory[symbol] = hist

	cutoff := now.Add(-foreignAccelWindow)
	var past *netSample
	for i := range hist {
		if hist[i].ts.After(cutoff) {
			break
		}
		past = &hist[i]
	}
	if past == nil || math.Abs(past.val) < foreignMinValue {
		return
	}

	change := math.Abs((netValue - past.val) / past.val)
	if change <= foreignAccelThreshold {
		return
	}
	direction := "selling"
	if netValue > past.val {
		direction = "buying"
	}
	d.service.Register(&models.Alert{
		Type:     models.AlertForeignAccel,
		Severity: models.SeverityWarning,
		Symbol:   symbol,
		Message:  fmt.Sprintf("%s foreign %s accel %.0f%% in 5min", symbol, direction, change*100),
		Data: map[string]any{
			"net_value":  netValue,
			"prev_value": past.val,
			"change_pct": math.Round(change*1000) / 1000,
			"direction":  direction,
		},
		CreatedAt: now,
	})
}

// OnBasis runs the basis-flip check after a basis recomputation. The first
// observation only seeds the sign; a flip fires on premium↔discount changes.
func (d *Detector) OnBasis(bp *models.BasisPoint) {
	if bp == nil {
		return
	}
	current := bp.IsPremium
	if d.prevPremium != nil && current != *d.prevPremium {
		direction := "premium→discount"
		if current {
			direction = "discount→premium"
		}
		d.service.Register(&models.Alert{
			Type:     models.AlertBasisDivergence,
			Severity: models.SeverityWarning,
			Symbol:   bp.FuturesSymbol,
			Message:  fmt.Sprintf("basis flipped %s: %+.2f (%+.3f%%)", direction, bp.Basis, bp.BasisPct),
			Data: map[string]any{
				"basis":         bp.Basis,
				"basis_pct":     bp.BasisPct,
				"futures_price": bp.FuturesPrice,
				"spot_value":    bp.SpotValue,
			},
			CreatedAt: d.now(),
		})
	}
	d.prevPremium = &current
}

// Reset clears all rolling state including the remembered basis sign.
func (d *Detector) Reset() {
	d.volHistory = make(map[string][]volSample)
	d.foreignHistory = make(map[string][]netSample)
	d.prevPremium = nil
}
