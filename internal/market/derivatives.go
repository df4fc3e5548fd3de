package market

import (
	"time"

	"github.com/vietquant/vnpulse/internal/models"
)

// Cap on basis history points, roughly one hour at one futures trade per
// second. Hard memory bound; BasisTrend applies a time filter on top.
const basisHistoryCap = 3600

// DerivativesTracker follows VN30F futures trades, designates the contract
// with the largest session volume as active, and recomputes the futures-spot
// basis against the VN30 index on every trade.
type DerivativesTracker struct {
	index *IndexTracker
	cache *QuoteCache

	prices     map[string]float64
	volumes    map[string]int64
	changes    map[string]float64
	changePcts map[string]float64

	basisHistory []models.BasisPoint
	currentBasis *models.BasisPoint
	active       string

	now func() time.Time
}

// NewDerivativesTracker wires the tracker to its spot and quote sources.
func NewDerivativesTracker(index *IndexTracker, cache *QuoteCache) *DerivativesTracker {
	t := &DerivativesTracker{index: index, cache: cache, now: time.Now}
	t.Reset()
	return t
}

// Update processes a VN30F trade and returns the new basis point, or nil
// when the basis is not computable (no spot or no futures price yet).
func (t *DerivativesTracker) Update(trade *models.TradeEvent) *models.BasisPoint {
	symbol := trade.Symbol
	t.prices[symbol] = trade.LastPrice
	t.volumes[symbol] += trade.LastVol
	t.changes[symbol] = trade.Change
	t.changePcts[symbol] = trade.RatioChange

	// Highest cumulative volume wins; on a tie the most recent update wins.
	if t.active == "" || t.volumes[symbol] >= t.volumes[t.active] {
		t.active = symbol
	}

	return t.computeBasis(symbol)
}

func (t *DerivativesTracker) computeBasis(futuresSymbol string) *models.BasisPoint {
	futuresPrice := t.prices[futuresSymbol]
	spot := t.index.VN30Value()
	if futuresPrice <= 0 || spot <= 0 {
		return nil
	}

	basis := futuresPrice - spot
	bp := models.BasisPoint{
		Timestamp:     t.now(),
		FuturesSymbol: futuresSymbol,
		FuturesPrice:  futuresPrice,
		SpotValue:     spot,
		Basis:         basis,
		BasisPct:      basis / spot * 100,
		IsPremium:     basis > 0,
	}
	t.basisHistory = append(t.basisHistory, bp)
	if len(t.basisHistory) > basisHistoryCap {
		t.basisHistory = t.basisHistory[len(t.basisHistory)-basisHistoryCap:]
	}
	t.currentBasis = &bp
	return &bp
}

// CurrentBasis returns the latest basis point, or nil before the first one.
func (t *DerivativesTracker) CurrentBasis() *models.BasisPoint {
	return t.currentBasis
}

// BasisTrend returns history entries newer than now minus the given window.
func (t *DerivativesTracker) BasisTrend(minutes int) []models.BasisPoint {
	cutoff := t.now().Add(-time.Duration(minutes) * time.Minute)
	out := []models.BasisPoint{}
	for _, bp := range t.basisHistory {
		if !bp.Timestamp.Before(cutoff) {
			out = append(out, bp)
		}
	}
	return out
}

// Data returns the live snapshot for the active contract, or nil before the
// first futures trade.
func (t *DerivativesTracker) Data() *models.DerivativesData {
	if t.active == "" {
		return nil
	}
	symbol := t.active
	bid, ask := t.cache.BidAsk(symbol)
	d := &models.DerivativesData{
		Symbol:      symbol,
		LastPrice:   t.prices[symbol],
		Change:      t.changes[symbol],
		ChangePct:   t.changePcts[symbol],
		Volume:      t.volumes[symbol],
		BidPrice:    bid,
		AskPrice:    ask,
		LastUpdated: t.now(),
	}
	if t.currentBasis != nil {
		d.Basis = t.currentBasis.Basis
		d.BasisPct = t.currentBasis.BasisPct
		d.IsPremium = t.currentBasis.IsPremium
	}
	return d
}

// FuturesPrice returns the cached last price for a contract, zero if unseen.
func (t *DerivativesTracker) FuturesPrice(symbol string) float64 {
	return t.prices[symbol]
}

// Reset clears all derivatives state at the daily reset.
func (t *DerivativesTracker) Reset() {
	t.prices = make(map[string]float64)
	t.volumes = make(map[string]int64)
	t.changes = make(map[string]float64)
	t.changePcts = make(map[string]float64)
	t.basisHistory = nil
	t.currentBasis = nil
	t.active = ""
}
