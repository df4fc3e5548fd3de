package market

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vietquant/vnpulse/internal/models"
)

func TestClassifyAggressorSide(t *testing.T) {
	cases := []struct {
		name    string
		bid     float64
		ask     float64
		price   float64
		session string
		want    models.TradeType
	}{
		{"lifts the ask", 80.0, 80.5, 80.5, "LO", models.TradeMua},
		{"above the ask", 80.0, 80.5, 81.0, "LO", models.TradeMua},
		{"hits the bid", 80.0, 80.5, 80.0, "LO", models.TradeBan},
		{"below the bid", 80.0, 80.5, 79.5, "LO", models.TradeBan},
		{"mid spread", 80.0, 80.5, 80.2, "LO", models.TradeNeutral},
		{"ato auction is neutral", 80.0, 80.5, 80.5, "ATO", models.TradeNeutral},
		{"atc auction is neutral", 80.0, 80.5, 80.0, "ATC", models.TradeNeutral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := NewQuoteCache()
			cache.Update(&models.QuoteEvent{Symbol: "VNM", BidPrice1: tc.bid, AskPrice1: tc.ask})
			c := NewClassifier(cache, nil)

			got := c.Classify(&models.TradeEvent{
				Symbol: "VNM", LastPrice: tc.price, LastVol: 100, TradingSession: tc.session,
			})
			assert.Equal(t, tc.want, got.TradeType)
			assert.Equal(t, tc.bid, got.BidPrice)
			assert.Equal(t, tc.ask, got.AskPrice)
		})
	}
}

func TestClassifyWithoutQuoteIsNeutral(t *testing.T) {
	c := NewClassifier(NewQuoteCache(), nil)
	got := c.Classify(&models.TradeEvent{Symbol: "HPG", LastPrice: 25.0, LastVol: 500, TradingSession: "LO"})
	assert.Equal(t, models.TradeNeutral, got.TradeType)
	assert.Zero(t, got.BidPrice)
	assert.Zero(t, got.AskPrice)
}

func TestClassifyValueUsesThousandScale(t *testing.T) {
	cache := NewQuoteCache()
	cache.Update(&models.QuoteEvent{Symbol: "VNM", BidPrice1: 80.0, AskPrice1: 80.5})
	c := NewClassifier(cache, nil)

	got := c.Classify(&models.TradeEvent{Symbol: "VNM", LastPrice: 80.5, LastVol: 100, TradingSession: "LO"})
	assert.InDelta(t, 80.5*100*1000, got.Value, 1e-9)
	assert.Equal(t, int64(100), got.Volume, "per-trade volume, not cumulative")
}

func TestClassifyIsIdempotent(t *testing.T) {
	cache := NewQuoteCache()
	cache.Update(&models.QuoteEvent{Symbol: "VNM", BidPrice1: 80.0, AskPrice1: 80.5})
	c := NewClassifier(cache, nil)
	ev := &models.TradeEvent{Symbol: "VNM", LastPrice: 80.5, LastVol: 100, TradingSession: "LO"}

	first := c.Classify(ev)
	second := c.Classify(ev)
	assert.Equal(t, first.TradeType, second.TradeType)
	assert.Equal(t, first.Value, second.Value)

	// Classification must not touch the cache.
	bid, ask := cache.BidAsk("VNM")
	assert.Equal(t, 80.0, bid)
	assert.Equal(t, 80.5, ask)
}
