package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandlesQuery(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewHistory(db)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	ts := start.Add(9*time.Hour + 15*time.Minute)

	mock.ExpectQuery("SELECT symbol, timestamp, open, high, low, close").
		WithArgs("VNM", start, end).
		WillReturnRows(sqlmock.NewRows([]string{
			"symbol", "timestamp", "open", "high", "low", "close",
			"volume", "active_buy_vol", "active_sell_vol",
		}).AddRow("VNM", ts, 80.0, 80.6, 79.8, 80.2, int64(1500), int64(900), int64(400)))

	bars, err := h.Candles(context.Background(), "VNM", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "VNM", bars[0].Symbol)
	assert.Equal(t, 80.6, bars[0].High)
	assert.Equal(t, int64(900), bars[0].ActiveBuyVol)
}

func TestBasisTrendQueryDerivesSpot(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewHistory(db)
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT contract, timestamp, price, basis").
		WithArgs("30").
		WillReturnRows(sqlmock.NewRows([]string{"contract", "timestamp", "price", "basis"}).
			AddRow("VN30F2603", ts, 1260.0, 10.0).
			AddRow("VN30F2603", ts.Add(time.Minute), 1245.0, -5.0))

	trend, err := h.BasisTrend(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, trend, 2)

	assert.Equal(t, 1250.0, trend[0].SpotValue)
	assert.True(t, trend[0].IsPremium)
	assert.InDelta(t, 10.0/1250.0*100, trend[0].BasisPct, 1e-9)
	assert.False(t, trend[1].IsPremium)
}

func TestForeignDailyQuery(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewHistory(db)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT date_trunc").
		WithArgs("VNM", "30").
		WillReturnRows(sqlmock.NewRows([]string{
			"day", "buy_vol", "sell_vol", "net_vol", "buy_value", "sell_value",
		}).AddRow(day, int64(50000), int64(20000), int64(30000), 5e10, 2e10))

	rows, err := h.ForeignDaily(context.Background(), "VNM", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(30000), rows[0].NetVol)
	assert.InDelta(t, 5e10, rows[0].BuyValue, 1)
}

func TestBasisTrendQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewHistory(db)

	mock.ExpectQuery("SELECT contract").WillReturnError(assert.AnError)

	_, err := h.BasisTrend(context.Background(), 30)
	assert.Error(t, err)
}
