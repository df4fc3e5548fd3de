package market

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/models"
)

const (
	foreignSpeedWindow  = 5 * time.Minute
	foreignHistoryCap   = 600 // ~10 min at 1 msg/sec
	foreignTopMoverSize = 5
)

type foreignDelta struct {
	ts      time.Time
	buyVol  int64
	sellVol int64
}

// ForeignTracker tracks per-symbol foreign investor flow from cumulative
// channel R events: deltas between consecutive updates, rolling buy/sell
// speed in vol/min over a trailing five-minute window, and acceleration as
// the change in speed between updates.
type ForeignTracker struct {
	prev      map[string]*models.ForeignEvent
	session   map[string]*models.ForeignInvestorData
	history   map[string][]foreignDelta
	prevSpeed map[string][2]float64
	now       func() time.Time
}

// NewForeignTracker returns an empty tracker.
func NewForeignTracker() *ForeignTracker {
	t := &ForeignTracker{now: time.Now}
	t.Reset()
	return t
}

// Update processes a cumulative foreign event and returns the refreshed
// per-symbol state. Cumulative buy/sell only regress across upstream
// reconnects; negative deltas are clamped to zero so speed never counts a
// phantom outflow.
func (t *ForeignTracker) Update(ev *models.ForeignEvent) *models.ForeignInvestorData {
	symbol := ev.Symbol
	now := t.now()

	var buyDelta, sellDelta int64
	if prev, ok := t.prev[symbol]; ok {
		buyDelta = ev.FBuyVol - prev.FBuyVol
		sellDelta = ev.FSellVol - prev.FSellVol
		if buyDelta < 0 || sellDelta < 0 {
			log.Warn().
				Str("symbol", symbol).
				Int64("prev_buy", prev.FBuyVol).Int64("new_buy", ev.FBuyVol).
				Int64("prev_sell", prev.FSellVol).Int64("new_sell", ev.FSellVol).
				Msg("foreign cumulative regressed, clamping delta (reconnect?)")
			buyDelta = max64(0, buyDelta)
			sellDelta = max64(0, sellDelta)
		}
	} else {
		// First observation: the cumulative totals are the delta.
		buyDelta = ev.FBuyVol
		sellDelta = ev.FSellVol
	}
	t.prev[symbol] = ev

	hist := append(t.history[symbol], foreignDelta{ts: now, buyVol: buyDelta, sellVol: sellDelta})
	if len(hist) > foreignHistoryCap {
		hist = hist[len(hist)-foreignHistoryCap:]
	}
	t.history[symbol] = hist

	buySpeed, sellSpeed := t.speed(symbol, now)
	prevSpeeds := t.prevSpeed[symbol]
	data := &models.ForeignInvestorData{
		Symbol:          symbol,
		BuyVolume:       ev.FBuyVol,
		SellVolume:      ev.FSellVol,
		NetVolume:       ev.FBuyVol - ev.FSellVol,
		BuyValue:        ev.FBuyVal,
		SellValue:       ev.FSellVal,
		NetValue:        ev.FBuyVal - ev.FSellVal,
		TotalRoom:       ev.TotalRoom,
		CurrentRoom:     ev.CurrentRoom,
		BuySpeedPerMin:  buySpeed,
		SellSpeedPerMin: sellSpeed,
		BuyAccel:        buySpeed - prevSpeeds[0],
		SellAccel:       sellSpeed - prevSpeeds[1],
		LastUpdated:     now,
	}
	t.prevSpeed[symbol] = [2]float64{buySpeed, sellSpeed}
	t.session[symbol] = data
	return data
}

// speed sums deltas inside the trailing window and converts to vol/min.
func (t *ForeignTracker) speed(symbol string, now time.Time) (buy, sell float64) {
	cutoff := now.Add(-foreignSpeedWindow)
	var totalBuy, totalSell int64
	for _, d := range t.history[symbol] {
		if !d.ts.Before(cutoff) {
			totalBuy += d.buyVol
			totalSell += d.sellVol
		}
	}
	mins := foreignSpeedWindow.Minutes()
	return float64(totalBuy) / mins, float64(totalSell) / mins
}

// Data returns the current state for one symbol; an empty record when untracked.
func (t *ForeignTracker) Data(symbol string) *models.ForeignInvestorData {
	if d, ok := t.session[symbol]; ok {
		return d
	}
	return &models.ForeignInvestorData{Symbol: symbol}
}

// All returns a shallow copy of the tracked symbol table.
func (t *ForeignTracker) All() map[string]*models.ForeignInvestorData {
	out := make(map[string]*models.ForeignInvestorData, len(t.session))
	for k, v := range t.session {
		out[k] = v
	}
	return out
}

// Summary aggregates flow across all tracked symbols, with the five largest
// net buyers and net sellers by net value.
func (t *ForeignTracker) Summary() *models.ForeignSummary {
	items := make([]*models.ForeignInvestorData, 0, len(t.session))
	for _, d := range t.session {
		items = append(items, d)
	}
	sum := &models.ForeignSummary{
		TopBuy:  []*models.ForeignInvestorData{},
		TopSell: []*models.ForeignInvestorData{},
	}
	for _, d := range items {
		sum.TotalBuyValue += d.BuyValue
		sum.TotalSellValue += d.SellValue
		sum.TotalBuyVolume += d.BuyVolume
		sum.TotalSellVolume += d.SellVolume
	}
	sum.TotalNetValue = sum.TotalBuyValue - sum.TotalSellValue
	sum.TotalNetVolume = sum.TotalBuyVolume - sum.TotalSellVolume

	// Ascending by net value: head = top sellers, reversed tail = top buyers.
	sort.Slice(items, func(i, j int) bool { return items[i].NetValue < items[j].NetValue })
	n := len(items)
	for i := 0; i < n && i < foreignTopMoverSize; i++ {
		sum.TopSell = append(sum.TopSell, items[i])
	}
	for i := n - 1; i >= 0 && i >= n-foreignTopMoverSize; i-- {
		sum.TopBuy = append(sum.TopBuy, items[i])
	}
	return sum
}

// Reconcile re-seeds the cumulative baseline for a symbol without emitting a
// delta. Used after a reconnect, fed from the broker's REST snapshot, so the
// first streamed event after the gap produces a sane delta.
func (t *ForeignTracker) Reconcile(ev *models.ForeignEvent) {
	t.prev[ev.Symbol] = ev
}

// Reset clears all foreign state at the daily reset.
func (t *ForeignTracker) Reset() {
	t.prev = make(map[string]*models.ForeignEvent)
	t.session = make(map[string]*models.ForeignInvestorData)
	t.history = make(map[string][]foreignDelta)
	t.prevSpeed = make(map[string][2]float64)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
