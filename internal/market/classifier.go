package market

import (
	"time"

	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
)

// Classifier tags trades as active buy / active sell / neutral by comparing
// the trade price against the cached top-of-book.
type Classifier struct {
	cache *QuoteCache
	reg   *metrics.Registry
	now   func() time.Time
}

// NewClassifier builds a classifier reading bid/ask from cache. reg may be
// nil in tests.
func NewClassifier(cache *QuoteCache, reg *metrics.Registry) *Classifier {
	return &Classifier{cache: cache, reg: reg, now: time.Now}
}

// Classify tags a single trade. Rules:
//   - ATO/ATC auction trades are neutral (single-price match, no aggressor)
//   - price >= ask_1 is an active buy (mua chu dong)
//   - price <= bid_1 is an active sell (ban chu dong)
//   - otherwise neutral (mid-spread, or no quote cached yet)
//
// Volume is the per-trade LastVol, never the cumulative TotalVol. Value is
// price * volume * 1000 because HOSE quotes prices in thousand VND.
func (c *Classifier) Classify(t *models.TradeEvent) *models.ClassifiedTrade {
	start := c.now()
	bid, ask := c.cache.BidAsk(t.Symbol)

	var tradeType models.TradeType
	switch {
	case t.TradingSession == "ATO" || t.TradingSession == "ATC":
		tradeType = models.TradeNeutral
	case ask > 0 && t.LastPrice >= ask:
		tradeType = models.TradeMua
	case bid > 0 && t.LastPrice <= bid:
		tradeType = models.TradeBan
	default:
		tradeType = models.TradeNeutral
	}

	ct := &models.ClassifiedTrade{
		Symbol:         t.Symbol,
		Price:          t.LastPrice,
		Volume:         t.LastVol,
		Value:          t.LastPrice * float64(t.LastVol) * 1000,
		TradeType:      tradeType,
		BidPrice:       bid,
		AskPrice:       ask,
		Timestamp:      start,
		TradingSession: t.TradingSession,
	}
	if c.reg != nil {
		c.reg.ClassifyDuration.Observe(time.Since(start).Seconds())
	}
	return ct
}
