package market

import (
	"time"

	"github.com/vietquant/vnpulse/internal/models"
)

// Cap on intraday sparkline points, roughly six trading hours at one update
// per second. The capacity is the hard memory bound; the time filter is only
// a view.
const intradayCap = 21600

// IndexTracker keeps the latest snapshot per index id (VN30, VNINDEX, ...)
// plus a bounded intraday sparkline for charting.
type IndexTracker struct {
	indices  map[string]*models.IndexData
	intraday map[string][]models.IntradayPoint
	now      func() time.Time
}

// NewIndexTracker returns an empty tracker.
func NewIndexTracker() *IndexTracker {
	t := &IndexTracker{now: time.Now}
	t.Reset()
	return t
}

// Update processes a channel MI event and returns the refreshed snapshot.
// Zero index values are kept out of the sparkline so pre-open placeholders
// do not draw a cliff.
func (t *IndexTracker) Update(ev *models.IndexEvent) *models.IndexData {
	now := t.now()

	if ev.IndexValue > 0 {
		points := append(t.intraday[ev.IndexID], models.IntradayPoint{Timestamp: now, Value: ev.IndexValue})
		if len(points) > intradayCap {
			points = points[len(points)-intradayCap:]
		}
		t.intraday[ev.IndexID] = points
	}

	data := &models.IndexData{
		IndexID:      ev.IndexID,
		Value:        ev.IndexValue,
		PriorValue:   ev.PriorIndexValue,
		Change:       ev.Change,
		RatioChange:  ev.RatioChange,
		TotalVolume:  ev.TotalQtty,
		Advances:     ev.Advances,
		Declines:     ev.Declines,
		NoChanges:    ev.NoChanges,
		AdvanceRatio: advanceRatio(ev.Advances, ev.Declines),
		Intraday:     t.intraday[ev.IndexID],
		LastUpdated:  now,
	}
	t.indices[ev.IndexID] = data
	return data
}

func advanceRatio(advances, declines int64) float64 {
	decided := advances + declines
	if decided == 0 {
		return 0
	}
	return float64(advances) / float64(decided)
}

// Index returns the latest snapshot for an index id, or nil.
func (t *IndexTracker) Index(id string) *models.IndexData {
	return t.indices[id]
}

// VN30Value is the spot value used for basis computation; zero before the
// first VN30 tick.
func (t *IndexTracker) VN30Value() float64 {
	if idx, ok := t.indices["VN30"]; ok {
		return idx.Value
	}
	return 0
}

// All returns a shallow copy of the tracked index table.
func (t *IndexTracker) All() map[string]*models.IndexData {
	out := make(map[string]*models.IndexData, len(t.indices))
	for k, v := range t.indices {
		out[k] = v
	}
	return out
}

// Reset clears all index state at the daily reset.
func (t *IndexTracker) Reset() {
	t.indices = make(map[string]*models.IndexData)
	t.intraday = make(map[string][]models.IntradayPoint)
}
