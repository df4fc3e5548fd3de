package models

import "time"

// TradeType tags the aggressor side of a classified trade.
type TradeType string

const (
	TradeMua     TradeType = "mua_chu_dong" // active buy: price lifted the ask
	TradeBan     TradeType = "ban_chu_dong" // active sell: price hit the bid
	TradeNeutral TradeType = "neutral"
)

// ClassifiedTrade is a single trade tagged by aggressor side.
type ClassifiedTrade struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	Volume         int64     `json:"volume"`
	Value          float64   `json:"value"` // price * volume * 1000 (prices quoted in thousand VND)
	TradeType      TradeType `json:"trade_type"`
	BidPrice       float64   `json:"bid_price"`
	AskPrice       float64   `json:"ask_price"`
	Timestamp      time.Time `json:"timestamp"`
	TradingSession string    `json:"trading_session"`
}

// SessionBreakdown is the volume split for a single trading phase.
type SessionBreakdown struct {
	MuaChuDongVolume int64 `json:"mua_chu_dong_volume"`
	BanChuDongVolume int64 `json:"ban_chu_dong_volume"`
	NeutralVolume    int64 `json:"neutral_volume"`
	TotalVolume      int64 `json:"total_volume"`
}

// SessionStats aggregates classified volume for one symbol across the day,
// overall and per phase (ATO auction, continuous, ATC auction).
type SessionStats struct {
	Symbol           string           `json:"symbol"`
	MuaChuDongVolume int64            `json:"mua_chu_dong_volume"`
	MuaChuDongValue  float64          `json:"mua_chu_dong_value"`
	BanChuDongVolume int64            `json:"ban_chu_dong_volume"`
	BanChuDongValue  float64          `json:"ban_chu_dong_value"`
	NeutralVolume    int64            `json:"neutral_volume"`
	TotalVolume      int64            `json:"total_volume"`
	LastUpdated      time.Time        `json:"last_updated"`
	ATO              SessionBreakdown `json:"ato"`
	Continuous       SessionBreakdown `json:"continuous"`
	ATC              SessionBreakdown `json:"atc"`
}

// PriceData is the last trade price plus regulatory reference levels.
type PriceData struct {
	LastPrice float64 `json:"last_price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
	RefPrice  float64 `json:"ref_price"`
	Ceiling   float64 `json:"ceiling"`
	Floor     float64 `json:"floor"`
}

// ForeignInvestorData is per-symbol foreign flow state with rolling speed
// (vol/min over the trailing five minutes) and acceleration (speed delta).
type ForeignInvestorData struct {
	Symbol          string    `json:"symbol"`
	BuyVolume       int64     `json:"buy_volume"`
	SellVolume      int64     `json:"sell_volume"`
	NetVolume       int64     `json:"net_volume"`
	BuyValue        float64   `json:"buy_value"`
	SellValue       float64   `json:"sell_value"`
	NetValue        float64   `json:"net_value"`
	TotalRoom       int64     `json:"total_room"`
	CurrentRoom     int64     `json:"current_room"`
	BuySpeedPerMin  float64   `json:"buy_speed_per_min"`
	SellSpeedPerMin float64   `json:"sell_speed_per_min"`
	BuyAccel        float64   `json:"buy_acceleration"`
	SellAccel       float64   `json:"sell_acceleration"`
	LastUpdated     time.Time `json:"last_updated"`
}

// ForeignSummary aggregates foreign flow across the watchlist.
type ForeignSummary struct {
	TotalBuyValue   float64                `json:"total_buy_value"`
	TotalSellValue  float64                `json:"total_sell_value"`
	TotalNetValue   float64                `json:"total_net_value"`
	TotalBuyVolume  int64                  `json:"total_buy_volume"`
	TotalSellVolume int64                  `json:"total_sell_volume"`
	TotalNetVolume  int64                  `json:"total_net_volume"`
	TopBuy          []*ForeignInvestorData `json:"top_buy"`
	TopSell         []*ForeignInvestorData `json:"top_sell"`
}

// IntradayPoint is one sparkline sample.
type IntradayPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// IndexData is a real-time index snapshot (VN30, VNINDEX).
// AdvanceRatio is advances/(advances+declines), zero when both are zero.
type IndexData struct {
	IndexID      string          `json:"index_id"`
	Value        float64         `json:"value"`
	PriorValue   float64         `json:"prior_value"`
	Change       float64         `json:"change"`
	RatioChange  float64         `json:"ratio_change"`
	TotalVolume  int64           `json:"total_volume"`
	Advances     int64           `json:"advances"`
	Declines     int64           `json:"declines"`
	NoChanges    int64           `json:"no_changes"`
	AdvanceRatio float64         `json:"advance_ratio"`
	Intraday     []IntradayPoint `json:"intraday"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// BasisPoint is the futures-spot basis at one instant.
type BasisPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	FuturesSymbol string    `json:"futures_symbol"`
	FuturesPrice  float64   `json:"futures_price"`
	SpotValue     float64   `json:"spot_value"`
	Basis         float64   `json:"basis"`     // futures - spot
	BasisPct      float64   `json:"basis_pct"` // basis / spot * 100
	IsPremium     bool      `json:"is_premium"`
}

// DerivativesData is the live snapshot of the active VN30F contract.
type DerivativesData struct {
	Symbol      string    `json:"symbol"`
	LastPrice   float64   `json:"last_price"`
	Change      float64   `json:"change"`
	ChangePct   float64   `json:"change_pct"`
	Volume      int64     `json:"volume"` // cumulative session volume
	BidPrice    float64   `json:"bid_price"`
	AskPrice    float64   `json:"ask_price"`
	Basis       float64   `json:"basis"`
	BasisPct    float64   `json:"basis_pct"`
	IsPremium   bool      `json:"is_premium"`
	LastUpdated time.Time `json:"last_updated"`
}

// MarketSnapshot is the unified view broadcast on the market channel and
// served by the snapshot endpoint.
type MarketSnapshot struct {
	Quotes      map[string]*SessionStats `json:"quotes"`
	Prices      map[string]*PriceData    `json:"prices"`
	Indices     map[string]*IndexData    `json:"indices"`
	Foreign     *ForeignSummary          `json:"foreign"`
	Derivatives *DerivativesData         `json:"derivatives"`
}

// CandleBar is a 1-minute OHLCV bar built from classified trades.
type CandleBar struct {
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"` // minute bucket start
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        int64     `json:"volume"`
	ActiveBuyVol  int64     `json:"active_buy_vol"`
	ActiveSellVol int64     `json:"active_sell_vol"`
}
