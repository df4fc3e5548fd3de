package market

import (
	"time"

	"github.com/vietquant/vnpulse/internal/models"
)

// CandleSink receives closed 1-minute bars for persistence.
type CandleSink func(bar *models.CandleBar)

// CandleBuilder folds classified stock trades into per-symbol 1-minute OHLCV
// bars with an active buy/sell volume split. When a trade lands in a new
// minute bucket the previous bar for that symbol is emitted to the sink.
type CandleBuilder struct {
	open map[string]*models.CandleBar
	sink CandleSink
}

// NewCandleBuilder builds a candle builder; sink may be nil to discard bars.
func NewCandleBuilder(sink CandleSink) *CandleBuilder {
	return &CandleBuilder{open: make(map[string]*models.CandleBar), sink: sink}
}

// AddTrade folds one classified trade into the open bar for its symbol.
func (b *CandleBuilder) AddTrade(t *models.ClassifiedTrade) {
	bucket := t.Timestamp.Truncate(time.Minute)
	bar, ok := b.open[t.Symbol]
	if ok && !bar.Timestamp.Equal(bucket) {
		b.emit(bar)
		ok = false
	}
	if !ok {
		bar = &models.CandleBar{
			Symbol:    t.Symbol,
			Timestamp: bucket,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
		}
		b.open[t.Symbol] = bar
	}

	if t.Price > bar.High {
		bar.High = t.Price
	}
	if t.Price < bar.Low {
		bar.Low = t.Price
	}
	bar.Close = t.Price
	bar.Volume += t.Volume
	switch t.TradeType {
	case models.TradeMua:
		bar.ActiveBuyVol += t.Volume
	case models.TradeBan:
		bar.ActiveSellVol += t.Volume
	}
}

func (b *CandleBuilder) emit(bar *models.CandleBar) {
	if b.sink != nil {
		b.sink(bar)
	}
}

// Flush emits every open bar and clears them. Called on shutdown and at the
// daily reset so partial bars are not lost.
func (b *CandleBuilder) Flush() {
	for _, bar := range b.open {
		b.emit(bar)
	}
	b.open = make(map[string]*models.CandleBar)
}

// Reset drops open bars without emitting them.
func (b *CandleBuilder) Reset() {
	b.open = make(map[string]*models.CandleBar)
}
