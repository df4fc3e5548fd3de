package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vietquant/vnpulse/internal/models"
)

// History runs read-side queries against the persisted tables. It is used by
// the REST surface; the live pipeline never reads from the database.
type History struct {
	db *DB
}

// NewHistory builds a history reader on an open pool.
func NewHistory(db *DB) *History {
	return &History{db: db}
}

// Candles returns 1-minute bars for symbol inside [start, end).
func (h *History) Candles(ctx context.Context, symbol string, start, end time.Time) ([]models.CandleBar, error) {
	const query = `
		SELECT symbol, timestamp, open, high, low, close,
		       volume, active_buy_vol, active_sell_vol
		FROM candles_1m
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp`

	var rows []struct {
		Symbol        string    `db:"symbol"`
		Timestamp     time.Time `db:"timestamp"`
		Open          float64   `db:"open"`
		High          float64   `db:"high"`
		Low           float64   `db:"low"`
		Close         float64   `db:"close"`
		Volume        int64     `db:"volume"`
		ActiveBuyVol  int64     `db:"active_buy_vol"`
		ActiveSellVol int64     `db:"active_sell_vol"`
	}
	if err := h.db.SelectContext(ctx, &rows, query, symbol, start, end); err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}

	out := make([]models.CandleBar, len(rows))
	for i, r := range rows {
		out[i] = models.CandleBar{
			Symbol: r.Symbol, Timestamp: r.Timestamp,
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: r.Volume, ActiveBuyVol: r.ActiveBuyVol, ActiveSellVol: r.ActiveSellVol,
		}
	}
	return out, nil
}

// ForeignDaily aggregates one row per day of foreign activity for symbol over
// the trailing days. Cumulative session counters make MAX the right daily
// aggregate.
func (h *History) ForeignDaily(ctx context.Context, symbol string, days int) ([]ForeignDailyRow, error) {
	const query = `
		SELECT date_trunc('day', timestamp) AS day,
		       MAX(buy_vol)    AS buy_vol,
		       MAX(sell_vol)   AS sell_vol,
		       MAX(net_vol)    AS net_vol,
		       MAX(buy_value)  AS buy_value,
		       MAX(sell_value) AS sell_value
		FROM foreign_flow
		WHERE symbol = $1 AND timestamp >= NOW() - ($2 || ' days')::INTERVAL
		GROUP BY day
		ORDER BY day`

	var rows []ForeignDailyRow
	if err := h.db.SelectContext(ctx, &rows, query, symbol, fmt.Sprint(days)); err != nil {
		return nil, fmt.Errorf("failed to query foreign daily summary: %w", err)
	}
	return rows, nil
}

// ForeignDailyRow is one day of aggregated foreign flow.
type ForeignDailyRow struct {
	Day       time.Time `db:"day" json:"day"`
	BuyVol    int64     `db:"buy_vol" json:"buy_vol"`
	SellVol   int64     `db:"sell_vol" json:"sell_vol"`
	NetVol    int64     `db:"net_vol" json:"net_vol"`
	BuyValue  float64   `db:"buy_value" json:"buy_value"`
	SellValue float64   `db:"sell_value" json:"sell_value"`
}

// BasisTrend returns persisted basis points for the trailing window, the
// fallback when the in-memory trend is empty after a restart.
func (h *History) BasisTrend(ctx context.Context, minutes int) ([]models.BasisPoint, error) {
	const query = `
		SELECT contract, timestamp, price, basis
		FROM derivatives
		WHERE timestamp >= NOW() - ($1 || ' minutes')::INTERVAL
		ORDER BY timestamp`

	var rows []struct {
		Contract  string    `db:"contract"`
		Timestamp time.Time `db:"timestamp"`
		Price     float64   `db:"price"`
		Basis     float64   `db:"basis"`
	}
	if err := h.db.SelectContext(ctx, &rows, query, fmt.Sprint(minutes)); err != nil {
		return nil, fmt.Errorf("failed to query basis trend: %w", err)
	}

	out := make([]models.BasisPoint, len(rows))
	for i, r := range rows {
		spot := r.Price - r.Basis
		bp := models.BasisPoint{
			Timestamp:     r.Timestamp,
			FuturesSymbol: r.Contract,
			FuturesPrice:  r.Price,
			SpotValue:     spot,
			Basis:         r.Basis,
			IsPremium:     r.Basis > 0,
		}
		if spot > 0 {
			bp.BasisPct = r.Basis / spot * 100
		}
		out[i] = bp
	}
	return out, nil
}

// IndexHistory returns persisted index snapshots inside [start, end).
func (h *History) IndexHistory(ctx context.Context, name string, start, end time.Time) ([]IndexSnapshotRow, error) {
	const query = `
		SELECT index_name, timestamp, value, change_pct, volume
		FROM index_snapshots
		WHERE index_name = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp`

	var rows []IndexSnapshotRow
	if err := h.db.SelectContext(ctx, &rows, query, name, start, end); err != nil {
		return nil, fmt.Errorf("failed to query index history: %w", err)
	}
	return rows, nil
}

// IndexSnapshotRow is one persisted index observation.
type IndexSnapshotRow struct {
	IndexName string    `db:"index_name" json:"index_name"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Value     float64   `db:"value" json:"value"`
	ChangePct float64   `db:"change_pct" json:"change_pct"`
	Volume    int64     `db:"volume" json:"volume"`
}
