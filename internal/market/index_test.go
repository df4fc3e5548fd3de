package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/models"
)

func TestIndexUpdateComputesBreadth(t *testing.T) {
	tr := NewIndexTracker()
	d := tr.Update(&models.IndexEvent{
		IndexID: "VN30", IndexValue: 1250.0, PriorIndexValue: 1240.0,
		Change: 10.0, RatioChange: 0.81,
		Advances: 20, Declines: 5, NoChanges: 5,
	})
	assert.InDelta(t, 0.8, d.AdvanceRatio, 1e-9)
	assert.Equal(t, 1250.0, tr.VN30Value())
}

func TestIndexBreadthZeroWhenUndecided(t *testing.T) {
	tr := NewIndexTracker()
	d := tr.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0, NoChanges: 30})
	assert.Zero(t, d.AdvanceRatio)
}

func TestIndexSparklineSkipsZeroValues(t *testing.T) {
	tr := NewIndexTracker()
	tr.Update(&models.IndexEvent{IndexID: "VNINDEX", IndexValue: 0})
	d := tr.Update(&models.IndexEvent{IndexID: "VNINDEX", IndexValue: 1300.5})
	require.Len(t, d.Intraday, 1)
	assert.Equal(t, 1300.5, d.Intraday[0].Value)
}

func TestIndexSparklineBounded(t *testing.T) {
	tr := NewIndexTracker()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	i := 0
	tr.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Second) }

	for n := 0; n < intradayCap+50; n++ {
		tr.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1000 + float64(n)})
	}
	d := tr.Index("VN30")
	require.Len(t, d.Intraday, intradayCap)
	// Oldest points evicted first.
	assert.Equal(t, 1050.0, d.Intraday[0].Value)
}

func TestIndexReset(t *testing.T) {
	tr := NewIndexTracker()
	tr.Update(&models.IndexEvent{IndexID: "VN30", IndexValue: 1250.0})
	tr.Reset()
	assert.Nil(t, tr.Index("VN30"))
	assert.Zero(t, tr.VN30Value())
	assert.Empty(t, tr.All())
}
