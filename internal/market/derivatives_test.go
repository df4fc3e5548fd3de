package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/models"
)

func newDerivFixture() (*DerivativesTracker, *IndexTracker, *QuoteCache) {
	index := NewIndexTracker()
	cache := NewQuoteCache()
	return NewDerivativesTracker(index, cache), index, cache
}

func TestBasisAgainstVN30Spot(t *testing.T) {
	tr, index, _ := newDerivFixture()
	index.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})

	bp := tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1260.0, LastVol: 10})
	require.NotNil(t, bp)
	assert.InDelta(t, 10.0, bp.Basis, 1e-9)
	assert.InDelta(t, 10.0/1250.0*100, bp.BasisPct, 1e-9)
	assert.True(t, bp.IsPremium)
	assert.Equal(t, "VN30F2603", bp.FuturesSymbol)
}

func TestBasisSkippedWithoutSpot(t *testing.T) {
	tr, _, _ := newDerivFixture()
	bp := tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1260.0, LastVol: 10})
	assert.Nil(t, bp)
	assert.Nil(t, tr.CurrentBasis())
	assert.Empty(t, tr.BasisTrend(60))
}

func TestActiveContractFollowsVolume(t *testing.T) {
	tr, index, _ := newDerivFixture()
	index.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})

	tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1260.0, LastVol: 100})
	tr.Update(&models.TradeEvent{Symbol: "VN30F2604", LastPrice: 1265.0, LastVol: 30})
	require.NotNil(t, tr.Data())
	assert.Equal(t, "VN30F2603", tr.Data().Symbol)

	// Cumulative volume on the back month overtakes the front month.
	tr.Update(&models.TradeEvent{Symbol: "VN30F2604", LastPrice: 1266.0, LastVol: 90})
	assert.Equal(t, "VN30F2604", tr.Data().Symbol)
	assert.Equal(t, int64(120), tr.Data().Volume)
}

func TestActiveContractTieGoesToMostRecent(t *testing.T) {
	tr, index, _ := newDerivFixture()
	index.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})

	tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1260.0, LastVol: 50})
	tr.Update(&models.TradeEvent{Symbol: "VN30F2604", LastPrice: 1265.0, LastVol: 50})
	assert.Equal(t, "VN30F2604", tr.Data().Symbol)
}

func TestBasisTrendWindowFilter(t *testing.T) {
	tr, index, _ := newDerivFixture()
	index.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := base
	tr.now = func() time.Time { return now }

	tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1255.0, LastVol: 1})
	now = base.Add(40 * time.Minute)
	tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1258.0, LastVol: 1})

	trend := tr.BasisTrend(30)
	require.Len(t, trend, 1)
	assert.InDelta(t, 8.0, trend[0].Basis, 1e-9)
}

func TestDerivativesDataIncludesQuote(t *testing.T) {
	tr, index, cache := newDerivFixture()
	index.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})
	cache.Update(&models.QuoteEvent{Symbol: "VN30F2603", BidPrice1: 1259.5, AskPrice1: 1260.5})

	tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1260.0, LastVol: 5, Change: 3.0, RatioChange: 0.24})
	d := tr.Data()
	require.NotNil(t, d)
	assert.Equal(t, 1259.5, d.BidPrice)
	assert.Equal(t, 1260.5, d.AskPrice)
	assert.InDelta(t, 10.0, d.Basis, 1e-9)
	assert.True(t, d.IsPremium)
}

func TestDerivativesReset(t *testing.T) {
	tr, index, _ := newDerivFixture()
	index.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})
	tr.Update(&models.TradeEvent{Symbol: "VN30F2603", LastPrice: 1260.0, LastVol: 5})

	tr.Reset()
	assert.Nil(t, tr.Data())
	assert.Nil(t, tr.CurrentBasis())
	assert.Zero(t, tr.FuturesPrice("VN30F2603"))
}
