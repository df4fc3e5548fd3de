// Package market holds the in-memory streaming engine: per-symbol trackers,
// the trade classifier, session aggregation, and the processor that wires
// them together. All mutation happens on the run loop goroutine.
package market

import "github.com/vietquant/vnpulse/internal/models"

// QuoteCache stores the latest top-of-book quote per symbol. It is the one
// piece of session state that survives the daily reset, because the
// regulatory ceiling/floor and bid/ask stay valid until the next quote
// arrives.
type QuoteCache struct {
	quotes map[string]*models.QuoteEvent
}

// NewQuoteCache returns an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]*models.QuoteEvent)}
}

// Update stores or overwrites the latest quote for a symbol.
func (c *QuoteCache) Update(q *models.QuoteEvent) {
	c.quotes[q.Symbol] = q
}

// BidAsk returns (bid_price_1, ask_price_1), or (0, 0) when the symbol has
// not been quoted yet.
func (c *QuoteCache) BidAsk(symbol string) (bid, ask float64) {
	q, ok := c.quotes[symbol]
	if !ok {
		return 0, 0
	}
	return q.BidPrice1, q.AskPrice1
}

// PriceRefs returns (ref_price, ceiling, floor), or zeros when absent.
func (c *QuoteCache) PriceRefs(symbol string) (ref, ceiling, floor float64) {
	q, ok := c.quotes[symbol]
	if !ok {
		return 0, 0, 0
	}
	return q.RefPrice, q.Ceiling, q.Floor
}

// Quote returns the full cached quote, or nil.
func (c *QuoteCache) Quote(symbol string) *models.QuoteEvent {
	return c.quotes[symbol]
}

// Len reports the number of cached symbols.
func (c *QuoteCache) Len() int {
	return len(c.quotes)
}
