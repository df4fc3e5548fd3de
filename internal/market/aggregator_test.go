package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/models"
)

func classified(symbol string, tt models.TradeType, vol int64, session string) *models.ClassifiedTrade {
	return &models.ClassifiedTrade{
		Symbol:         symbol,
		Volume:         vol,
		Value:          float64(vol) * 1000,
		TradeType:      tt,
		Timestamp:      time.Now(),
		TradingSession: session,
	}
}

func TestAddTradeRoutesByTypeAndPhase(t *testing.T) {
	a := NewAggregator()
	a.AddTrade(classified("VNM", models.TradeNeutral, 10, "ATO"))
	a.AddTrade(classified("VNM", models.TradeMua, 100, "LO"))
	a.AddTrade(classified("VNM", models.TradeBan, 40, "LO"))
	a.AddTrade(classified("VNM", models.TradeNeutral, 5, ""))
	s := a.AddTrade(classified("VNM", models.TradeNeutral, 20, "ATC"))

	assert.Equal(t, int64(100), s.MuaChuDongVolume)
	assert.Equal(t, int64(40), s.BanChuDongVolume)
	assert.Equal(t, int64(35), s.NeutralVolume)
	assert.Equal(t, int64(175), s.TotalVolume)

	assert.Equal(t, int64(10), s.ATO.TotalVolume)
	assert.Equal(t, int64(145), s.Continuous.TotalVolume)
	assert.Equal(t, int64(20), s.ATC.TotalVolume)
	assert.Equal(t, int64(100), s.Continuous.MuaChuDongVolume)
}

func TestPhaseConservationInvariant(t *testing.T) {
	a := NewAggregator()
	types := []models.TradeType{models.TradeMua, models.TradeBan, models.TradeNeutral}
	sessions := []string{"ATO", "LO", "", "ATC"}
	for i := 0; i < 200; i++ {
		a.AddTrade(classified("SSI", types[i%3], int64(i%17+1), sessions[i%4]))
	}

	s := a.Stats("SSI")
	byType := s.MuaChuDongVolume + s.BanChuDongVolume + s.NeutralVolume
	byPhase := s.ATO.TotalVolume + s.Continuous.TotalVolume + s.ATC.TotalVolume
	assert.Equal(t, s.TotalVolume, byType)
	assert.Equal(t, s.TotalVolume, byPhase)
}

func TestStatsForUntrackedSymbolIsEmpty(t *testing.T) {
	a := NewAggregator()
	s := a.Stats("NOPE")
	require.NotNil(t, s)
	assert.Equal(t, "NOPE", s.Symbol)
	assert.Zero(t, s.TotalVolume)
}

func TestAggregatorReset(t *testing.T) {
	a := NewAggregator()
	a.AddTrade(classified("VNM", models.TradeMua, 100, "LO"))
	require.Len(t, a.AllStats(), 1)

	a.Reset()
	assert.Empty(t, a.AllStats())
	assert.Zero(t, a.Stats("VNM").TotalVolume)
}
