package market

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/alerts"
	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
)

// Channel tags emitted to subscribers after each mutation. They match the
// client socket paths under /ws/.
const (
	ChannelMarket  = "market"
	ChannelForeign = "foreign"
	ChannelIndex   = "index"
	ChannelAlerts  = "alerts"
)

// Channels lists every client-facing channel tag.
func Channels() []string {
	return []string{ChannelMarket, ChannelForeign, ChannelIndex, ChannelAlerts}
}

// ChannelSubscriber is notified with a channel tag after the processor has
// finished mutating that channel's state, so a broadcast triggered by the
// notification reads a consistent post-event snapshot.
type ChannelSubscriber func(channel string)

// Processor owns every tracker and routes typed events through them. All
// methods must run on the run loop goroutine; the processor holds no locks.
type Processor struct {
	quotes      *QuoteCache
	classifier  *Classifier
	aggregator  *Aggregator
	foreign     *ForeignTracker
	index       *IndexTracker
	derivatives *DerivativesTracker
	candles     *CandleBuilder
	detector    *alerts.Detector

	prices      map[string]*models.PriceData
	watchlist   map[string]struct{}
	subscribers []ChannelSubscriber
}

// NewProcessor wires the trackers together. An empty watchlist accepts every
// symbol; VN30F contracts are always accepted so the basis path keeps
// running regardless of the watchlist. candleSink may be nil.
func NewProcessor(watchlist []string, reg *metrics.Registry, alertService *alerts.Service, candleSink CandleSink) *Processor {
	quotes := NewQuoteCache()
	index := NewIndexTracker()
	p := &Processor{
		quotes:      quotes,
		classifier:  NewClassifier(quotes, reg),
		aggregator:  NewAggregator(),
		foreign:     NewForeignTracker(),
		index:       index,
		derivatives: NewDerivativesTracker(index, quotes),
		candles:     NewCandleBuilder(candleSink),
		detector:    alerts.NewDetector(alertService, quotes),
		prices:      make(map[string]*models.PriceData),
		watchlist:   make(map[string]struct{}),
	}
	for _, s := range watchlist {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			p.watchlist[s] = struct{}{}
		}
	}
	return p
}

// Subscribe registers a channel-tag consumer (the publisher).
func (p *Processor) Subscribe(sub ChannelSubscriber) {
	p.subscribers = append(p.subscribers, sub)
}

func (p *Processor) emit(channel string) {
	for _, sub := range p.subscribers {
		sub(channel)
	}
}

// accepts applies the watchlist filter. Empty watchlist accepts all;
// futures contracts bypass the filter.
func (p *Processor) accepts(symbol string) bool {
	if len(p.watchlist) == 0 || IsFutures(symbol) {
		return true
	}
	_, ok := p.watchlist[symbol]
	return ok
}

// HandleQuote caches the latest top-of-book for classification and display.
func (p *Processor) HandleQuote(q *models.QuoteEvent) {
	if !p.accepts(q.Symbol) {
		return
	}
	p.quotes.Update(q)
	p.emit(ChannelMarket)
}

// HandleTrade routes a trade event. Stock trades are classified, folded into
// session stats and candles, and run through the volume/breakout detectors.
// Futures trades update the derivatives tracker (possibly yielding a basis
// point that feeds the flip detector) and are still classified so the tick
// can be persisted; they skip the phase aggregator because the upstream
// carries no session tag for derivatives.
func (p *Processor) HandleTrade(t *models.TradeEvent) (*models.ClassifiedTrade, *models.SessionStats, *models.BasisPoint) {
	if IsFutures(t.Symbol) {
		bp := p.derivatives.Update(t)
		p.detector.OnBasis(bp)
		classified := p.classifier.Classify(t)
		p.emit(ChannelMarket)
		return classified, nil, bp
	}

	if !p.accepts(t.Symbol) {
		return nil, nil, nil
	}

	classified := p.classifier.Classify(t)
	stats := p.aggregator.AddTrade(classified)
	p.updatePrice(t)
	p.detector.OnTrade(t.Symbol, t.LastPrice, t.LastVol)
	p.candles.AddTrade(classified)
	p.emit(ChannelMarket)
	return classified, stats, nil
}

func (p *Processor) updatePrice(t *models.TradeEvent) {
	ref, ceiling, floor := p.quotes.PriceRefs(t.Symbol)
	p.prices[t.Symbol] = &models.PriceData{
		LastPrice: t.LastPrice,
		Change:    t.Change,
		ChangePct: t.RatioChange,
		RefPrice:  ref,
		Ceiling:   ceiling,
		Floor:     floor,
	}
}

// HandleForeign folds a cumulative foreign event into the tracker and runs
// the acceleration detector.
func (p *Processor) HandleForeign(ev *models.ForeignEvent) *models.ForeignInvestorData {
	if !p.accepts(ev.Symbol) {
		return nil
	}
	data := p.foreign.Update(ev)
	p.detector.OnForeign(ev.Symbol, data.NetValue)
	p.emit(ChannelForeign)
	return data
}

// HandleIndex refreshes the index tracker.
func (p *Processor) HandleIndex(ev *models.IndexEvent) *models.IndexData {
	data := p.index.Update(ev)
	p.emit(ChannelIndex)
	return data
}

// Snapshot assembles the full market view broadcast on the market channel.
func (p *Processor) Snapshot() *models.MarketSnapshot {
	prices := make(map[string]*models.PriceData, len(p.prices))
	for k, v := range p.prices {
		prices[k] = v
	}
	return &models.MarketSnapshot{
		Quotes:      p.aggregator.AllStats(),
		Prices:      prices,
		Indices:     p.index.All(),
		Foreign:     p.foreign.Summary(),
		Derivatives: p.derivatives.Data(),
	}
}

// ForeignSummary is the foreign channel payload.
func (p *Processor) ForeignSummary() *models.ForeignSummary {
	return p.foreign.Summary()
}

// ForeignDetail returns all per-symbol foreign records.
func (p *Processor) ForeignDetail() map[string]*models.ForeignInvestorData {
	return p.foreign.All()
}

// Indices is the index channel payload.
func (p *Processor) Indices() map[string]*models.IndexData {
	return p.index.All()
}

// AllStats returns every symbol's session stats.
func (p *Processor) AllStats() map[string]*models.SessionStats {
	return p.aggregator.AllStats()
}

// BasisTrend returns in-memory basis points within the window.
func (p *Processor) BasisTrend(minutes int) []models.BasisPoint {
	return p.derivatives.BasisTrend(minutes)
}

// BidAsk exposes the quote cache for tests and handlers.
func (p *Processor) BidAsk(symbol string) (bid, ask float64) {
	return p.quotes.BidAsk(symbol)
}

// Reconcile re-seeds the foreign tracker baseline after a reconnect.
func (p *Processor) Reconcile(ev *models.ForeignEvent) {
	p.foreign.Reconcile(ev)
}

// FlushCandles emits all open bars, used at shutdown and before the reset.
func (p *Processor) FlushCandles() {
	p.candles.Flush()
}

// ResetSession clears all session-scoped state at the daily reset. The quote
// cache and the subscriber list survive: regulatory levels stay valid until
// the next quote, and the publisher wiring is process-lifetime.
func (p *Processor) ResetSession() {
	p.candles.Flush()
	p.aggregator.Reset()
	p.foreign.Reset()
	p.index.Reset()
	p.derivatives.Reset()
	p.detector.Reset()
	p.prices = make(map[string]*models.PriceData)
	log.Info().Msg("session data reset")
}
