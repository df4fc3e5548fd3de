package store

import (
	"database/sql"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
)

const (
	maxQueueSize         = 10000
	flushBatchSize       = 500
	defaultFlushInterval = time.Second
)

// Writer batches market records and bulk-inserts them on a fixed cadence via
// the postgres COPY protocol. Four bounded queues (ticks, foreign flow, index
// snapshots, derivatives) absorb bursts; on overflow the oldest record is
// dropped so the pipeline never blocks the ingest path. Closed 1-minute
// candles are collected separately and upserted, because a bar for the same
// minute can be emitted twice around a flush.
type Writer struct {
	db       *DB
	reg      *metrics.Registry
	interval time.Duration

	ticks   chan *models.ClassifiedTrade
	foreign chan *models.ForeignInvestorData
	index   chan *models.IndexData
	basis   chan *models.BasisPoint

	candleMu sync.Mutex
	candles  []*models.CandleBar

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWriter builds a stopped writer; call Start to begin flushing.
func NewWriter(db *DB, reg *metrics.Registry) *Writer {
	return &Writer{
		db:       db,
		reg:      reg,
		interval: defaultFlushInterval,
		ticks:    make(chan *models.ClassifiedTrade, maxQueueSize),
		foreign:  make(chan *models.ForeignInvestorData, maxQueueSize),
		index:    make(chan *models.IndexData, maxQueueSize),
		basis:    make(chan *models.BasisPoint, maxQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// EnqueueTick queues one classified trade for tick_data.
func (w *Writer) EnqueueTick(t *models.ClassifiedTrade) {
	enqueue(w, w.ticks, t, "tick_data")
}

// EnqueueForeign queues one foreign state record for foreign_flow.
func (w *Writer) EnqueueForeign(d *models.ForeignInvestorData) {
	enqueue(w, w.foreign, d, "foreign_flow")
}

// EnqueueIndex queues one index snapshot for index_snapshots.
func (w *Writer) EnqueueIndex(d *models.IndexData) {
	enqueue(w, w.index, d, "index_snapshots")
}

// EnqueueBasis queues one basis point for derivatives.
func (w *Writer) EnqueueBasis(bp *models.BasisPoint) {
	enqueue(w, w.basis, bp, "derivatives")
}

// EnqueueCandle queues one closed bar for the candles_1m upsert.
func (w *Writer) EnqueueCandle(bar *models.CandleBar) {
	w.candleMu.Lock()
	defer w.candleMu.Unlock()
	if len(w.candles) >= maxQueueSize {
		w.candles = w.candles[1:]
		w.recordDropped("candles_1m")
		log.Warn().Msg("candle buffer full, dropped oldest bar")
	}
	w.candles = append(w.candles, bar)
}

// enqueue puts item on queue without blocking. On overflow the oldest entry
// is evicted with a warning; if the queue is somehow still full, the new
// record is discarded with an error.
func enqueue[T any](w *Writer, queue chan T, item T, table string) {
	select {
	case queue <- item:
		return
	default:
	}

	select {
	case <-queue:
		w.recordDropped(table)
		log.Warn().Str("table", table).Int("cap", maxQueueSize).Msg("write queue full, dropped oldest record")
	default:
	}
	select {
	case queue <- item:
	default:
		w.recordDropped(table)
		log.Error().Str("table", table).Msg("write queue still full, discarding new record")
	}
}

func (w *Writer) recordDropped(table string) {
	if w.reg != nil {
		w.reg.DBRecordsDropped.WithLabelValues(table).Inc()
	}
}

// Start launches the flush loop.
func (w *Writer) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.flushAll()
			case <-w.stop:
				return
			}
		}
	}()
	log.Info().Dur("interval", w.interval).Msg("batch writer started")
}

// Stop halts the loop and runs one final flush so accepted records survive
// shutdown.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	w.flushAll()
	log.Info().Msg("batch writer stopped, final flush complete")
}

func (w *Writer) flushAll() {
	w.db.SamplePoolGauge()
	w.flushTicks()
	w.flushForeign()
	w.flushIndex()
	w.flushBasis()
	w.flushCandles()
}

// drain pops up to max queued items without blocking.
func drain[T any](queue chan T, max int) []T {
	var items []T
	for len(items) < max {
		select {
		case item := <-queue:
			items = append(items, item)
		default:
			return items
		}
	}
	return items
}

// copyBatch runs one COPY into table inside a transaction. A failed batch is
// logged and discarded; it never propagates back to the ingest path.
func (w *Writer) copyBatch(table string, columns []string, rows [][]any) {
	if len(rows) == 0 {
		return
	}
	var timer *metrics.WriteTimer
	if w.reg != nil {
		timer = w.reg.StartWriteTimer(table)
	}

	err := func() error {
		tx, err := w.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(pq.CopyIn(table, columns...))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if _, err := stmt.Exec(row...); err != nil {
				stmt.Close()
				return err
			}
		}
		if _, err := stmt.Exec(); err != nil {
			stmt.Close()
			return err
		}
		if err := stmt.Close(); err != nil {
			return err
		}
		return tx.Commit()
	}()
	if err != nil {
		log.Error().Err(err).Str("table", table).Int("records", len(rows)).Msg("batch insert failed, discarding")
		return
	}

	if timer != nil {
		timer.Stop()
	}
	log.Debug().Str("table", table).Int("records", len(rows)).Msg("batch flushed")
}

func (w *Writer) flushTicks() {
	batch := drain(w.ticks, flushBatchSize)
	rows := make([][]any, 0, len(batch))
	for _, t := range batch {
		rows = append(rows, []any{
			t.Symbol, t.Timestamp, t.Price, t.Volume, string(t.TradeType),
			nullablePrice(t.BidPrice), nullablePrice(t.AskPrice),
		})
	}
	w.copyBatch("tick_data",
		[]string{"symbol", "timestamp", "price", "volume", "side", "bid", "ask"}, rows)
}

func (w *Writer) flushForeign() {
	batch := drain(w.foreign, flushBatchSize)
	now := time.Now().UTC()
	rows := make([][]any, 0, len(batch))
	for _, d := range batch {
		ts := d.LastUpdated
		if ts.IsZero() {
			ts = now
		}
		rows = append(rows, []any{
			d.Symbol, ts, d.BuyVolume, d.SellVolume, d.NetVolume, d.BuyValue, d.SellValue,
		})
	}
	w.copyBatch("foreign_flow",
		[]string{"symbol", "timestamp", "buy_vol", "sell_vol", "net_vol", "buy_value", "sell_value"}, rows)
}

func (w *Writer) flushIndex() {
	batch := drain(w.index, flushBatchSize)
	now := time.Now().UTC()
	rows := make([][]any, 0, len(batch))
	for _, d := range batch {
		ts := d.LastUpdated
		if ts.IsZero() {
			ts = now
		}
		rows = append(rows, []any{d.IndexID, ts, d.Value, d.RatioChange, d.TotalVolume})
	}
	w.copyBatch("index_snapshots",
		[]string{"index_name", "timestamp", "value", "change_pct", "volume"}, rows)
}

func (w *Writer) flushBasis() {
	batch := drain(w.basis, flushBatchSize)
	rows := make([][]any, 0, len(batch))
	for _, bp := range batch {
		// Open interest is not carried on the stream yet; persisted as zero.
		rows = append(rows, []any{bp.FuturesSymbol, bp.Timestamp, bp.FuturesPrice, bp.Basis, 0})
	}
	w.copyBatch("derivatives",
		[]string{"contract", "timestamp", "price", "basis", "open_interest"}, rows)
}

const upsertCandleSQL = `
	INSERT INTO candles_1m
		(symbol, timestamp, open, high, low, close, volume, active_buy_vol, active_sell_vol)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (symbol, timestamp) DO UPDATE SET
		high            = GREATEST(candles_1m.high, EXCLUDED.high),
		low             = LEAST(candles_1m.low, EXCLUDED.low),
		close           = EXCLUDED.close,
		volume          = candles_1m.volume + EXCLUDED.volume,
		active_buy_vol  = candles_1m.active_buy_vol + EXCLUDED.active_buy_vol,
		active_sell_vol = candles_1m.active_sell_vol + EXCLUDED.active_sell_vol`

// flushCandles upserts buffered bars. Merging on conflict keeps a minute
// correct when it is split across a flush boundary or a restart.
func (w *Writer) flushCandles() {
	w.candleMu.Lock()
	batch := w.candles
	w.candles = nil
	w.candleMu.Unlock()
	if len(batch) == 0 {
		return
	}

	var timer *metrics.WriteTimer
	if w.reg != nil {
		timer = w.reg.StartWriteTimer("candles_1m")
	}
	err := func() error {
		tx, err := w.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(upsertCandleSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, bar := range batch {
			if _, err := stmt.Exec(
				bar.Symbol, bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close,
				bar.Volume, bar.ActiveBuyVol, bar.ActiveSellVol,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	}()
	if err != nil {
		log.Error().Err(err).Int("records", len(batch)).Msg("candle upsert failed, discarding")
		return
	}

	if timer != nil {
		timer.Stop()
	}
	log.Debug().Int("records", len(batch)).Msg("candles upserted")
}

// nullablePrice maps the zero "no quote" sentinel to SQL NULL.
func nullablePrice(v float64) any {
	if v <= 0 {
		return sql.NullFloat64{}
	}
	return v
}
