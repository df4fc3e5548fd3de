package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/models"
)

func foreignEvent(symbol string, buyVol, sellVol int64, buyVal, sellVal float64) *models.ForeignEvent {
	return &models.ForeignEvent{
		Symbol: symbol, FBuyVol: buyVol, FSellVol: sellVol, FBuyVal: buyVal, FSellVal: sellVal,
	}
}

func TestForeignFirstEventUsesAbsoluteDeltas(t *testing.T) {
	tr := NewForeignTracker()
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	d := tr.Update(foreignEvent("VNM", 5000, 3000, 5e9, 3e9))
	assert.Equal(t, int64(5000), d.BuyVolume)
	assert.Equal(t, int64(2000), d.NetVolume)
	assert.InDelta(t, 2e9, d.NetValue, 1)
	// Initial speed counts the absolute totals over the 5-minute window.
	assert.InDelta(t, 1000, d.BuySpeedPerMin, 1e-9)
	assert.InDelta(t, 600, d.SellSpeedPerMin, 1e-9)
	// Initial acceleration equals initial speed.
	assert.InDelta(t, d.BuySpeedPerMin, d.BuyAccel, 1e-9)
	assert.InDelta(t, d.SellSpeedPerMin, d.SellAccel, 1e-9)
}

func TestForeignCumulativeRegressionClampsDeltas(t *testing.T) {
	tr := NewForeignTracker()
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.Update(foreignEvent("VNM", 5000, 3000, 5e9, 3e9))

	// Upstream reconnected and restarted its cumulative counters.
	tr.now = func() time.Time { return base.Add(10 * time.Minute) }
	d := tr.Update(foreignEvent("VNM", 100, 50, 1e8, 5e7))

	// State reports the new cumulative values as-is.
	assert.Equal(t, int64(100), d.BuyVolume)
	assert.Equal(t, int64(50), d.SellVolume)
	// Clamped deltas mean zero speed: the first sample aged out of the
	// window and the regression contributed nothing.
	assert.Zero(t, d.BuySpeedPerMin)
	assert.Zero(t, d.SellSpeedPerMin)
}

func TestForeignSpeedWindowAndAcceleration(t *testing.T) {
	tr := NewForeignTracker()
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	now := base
	tr.now = func() time.Time { return now }

	tr.Update(foreignEvent("HPG", 1000, 0, 1e9, 0))

	now = base.Add(time.Minute)
	d := tr.Update(foreignEvent("HPG", 3000, 0, 3e9, 0))
	// Both deltas (1000 + 2000) inside the window: 3000 / 5 min.
	assert.InDelta(t, 600, d.BuySpeedPerMin, 1e-9)
	assert.InDelta(t, 600-200, d.BuyAccel, 1e-9)

	// Six minutes later the early samples fall out of the window.
	now = base.Add(7 * time.Minute)
	d = tr.Update(foreignEvent("HPG", 3500, 0, 3.5e9, 0))
	assert.InDelta(t, 100, d.BuySpeedPerMin, 1e-9)
	assert.InDelta(t, 100-600, d.BuyAccel, 1e-9)
}

func TestForeignReconcileSuppressesDelta(t *testing.T) {
	tr := NewForeignTracker()
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	// Snapshot re-seed: no state record, no history entry.
	tr.Reconcile(foreignEvent("VNM", 5000, 3000, 5e9, 3e9))
	assert.Zero(t, tr.Data("VNM").BuyVolume)

	d := tr.Update(foreignEvent("VNM", 5100, 3000, 5.1e9, 3e9))
	// Delta is 100, not 5100: the baseline came from the snapshot.
	assert.InDelta(t, 20, d.BuySpeedPerMin, 1e-9)
}

func TestForeignSummaryTopMovers(t *testing.T) {
	tr := NewForeignTracker()
	symbols := []struct {
		sym    string
		netVal float64
	}{
		{"AAA", 7e9}, {"BBB", -6e9}, {"CCC", 3e9}, {"DDD", -1e9},
		{"EEE", 5e9}, {"FFF", -4e9}, {"GGG", 1e9},
	}
	for _, s := range symbols {
		buy := s.netVal
		sell := 0.0
		if buy < 0 {
			sell = -buy
			buy = 0
		}
		tr.Update(foreignEvent(s.sym, 0, 0, buy, sell))
	}

	sum := tr.Summary()
	require.Len(t, sum.TopBuy, 5)
	require.Len(t, sum.TopSell, 5)
	assert.Equal(t, "AAA", sum.TopBuy[0].Symbol, "largest net buyer first")
	assert.Equal(t, "EEE", sum.TopBuy[1].Symbol)
	assert.Equal(t, "BBB", sum.TopSell[0].Symbol, "most negative net first")
	assert.Equal(t, "FFF", sum.TopSell[1].Symbol)
	assert.InDelta(t, 5e9, sum.TotalNetValue, 1)
}

func TestForeignReset(t *testing.T) {
	tr := NewForeignTracker()
	tr.Update(foreignEvent("VNM", 5000, 3000, 5e9, 3e9))
	require.Len(t, tr.All(), 1)

	tr.Reset()
	assert.Empty(t, tr.All())

	// Post-reset the next event is a first observation again.
	d := tr.Update(foreignEvent("VNM", 200, 100, 2e8, 1e8))
	assert.Equal(t, int64(200), d.BuyVolume)
}
