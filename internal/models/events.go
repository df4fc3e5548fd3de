package models

// Typed events decoded from the SSI FastConnect stream after PascalCase
// normalization. One struct per RType; a combined "X" record produces both a
// TradeEvent and a QuoteEvent from the same payload.

// RType tags carried by SSI stream frames.
const (
	RTypeTrade   = "Trade"
	RTypeQuote   = "Quote"
	RTypeForeign = "R"
	RTypeIndex   = "MI"
	RTypeBar     = "B"
)

// TradeEvent is a single executed trade (channel X, RType "Trade").
type TradeEvent struct {
	Symbol         string  `json:"symbol"`
	Exchange       string  `json:"exchange"`
	LastPrice      float64 `json:"last_price"`
	LastVol        int64   `json:"last_vol"` // per-trade volume, NOT cumulative
	TotalVol       int64   `json:"total_vol"`
	TotalVal       float64 `json:"total_val"`
	Change         float64 `json:"change"`
	RatioChange    float64 `json:"ratio_change"`
	TradingSession string  `json:"trading_session"` // "ATO", "ATC", "LO" or ""
}

// QuoteEvent is a top-of-book snapshot (channel X, RType "Quote").
type QuoteEvent struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Ceiling   float64 `json:"ceiling"`
	Floor     float64 `json:"floor"`
	RefPrice  float64 `json:"ref_price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	BidPrice1 float64 `json:"bid_price_1"`
	BidVol1   int64   `json:"bid_vol_1"`
	AskPrice1 float64 `json:"ask_price_1"`
	AskVol1   int64   `json:"ask_vol_1"`
	BidPrice2 float64 `json:"bid_price_2"`
	BidVol2   int64   `json:"bid_vol_2"`
	AskPrice2 float64 `json:"ask_price_2"`
	AskVol2   int64   `json:"ask_vol_2"`
	BidPrice3 float64 `json:"bid_price_3"`
	BidVol3   int64   `json:"bid_vol_3"`
	AskPrice3 float64 `json:"ask_price_3"`
	AskVol3   int64   `json:"ask_vol_3"`
}

// ForeignEvent carries cumulative-since-open foreign investor totals
// (channel R). Buy/sell volumes only regress across reconnect gaps.
type ForeignEvent struct {
	Symbol      string  `json:"symbol"`
	FBuyVol     int64   `json:"f_buy_vol"`
	FSellVol    int64   `json:"f_sell_vol"`
	FBuyVal     float64 `json:"f_buy_val"`
	FSellVal    float64 `json:"f_sell_val"`
	TotalRoom   int64   `json:"total_room"`
	CurrentRoom int64   `json:"current_room"`
}

// IndexEvent is an index tick (channel MI).
type IndexEvent struct {
	IndexID         string  `json:"index_id"`
	IndexValue      float64 `json:"index_value"`
	PriorIndexValue float64 `json:"prior_index_value"`
	Change          float64 `json:"change"`
	RatioChange     float64 `json:"ratio_change"`
	TotalQtty       int64   `json:"total_qtty"`
	TotalVal        float64 `json:"total_val"`
	Advances        int64   `json:"advances"`
	Declines        int64   `json:"declines"`
	NoChanges       int64   `json:"no_changes"`
}

// BarEvent is a 1-minute OHLC bar (channel B).
type BarEvent struct {
	Symbol string  `json:"symbol"`
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}
