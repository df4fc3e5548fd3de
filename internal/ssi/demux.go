package ssi

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/metrics"
	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/runloop"
)

// Demux decodes raw upstream frames on the reader goroutine and posts typed
// events to the run loop. It never touches core state itself; handler
// closures run on the loop, which also recovers their panics.
type Demux struct {
	loop *runloop.Loop
	reg  *metrics.Registry

	OnTrade   func(*models.TradeEvent)
	OnQuote   func(*models.QuoteEvent)
	OnForeign func(*models.ForeignEvent)
	OnIndex   func(*models.IndexEvent)
	OnBar     func(*models.BarEvent)
}

// NewDemux builds a demux posting to loop. reg may be nil in tests.
func NewDemux(loop *runloop.Loop, reg *metrics.Registry) *Demux {
	return &Demux{loop: loop, reg: reg}
}

// HandleRaw processes one frame from the upstream socket.
func (d *Demux) HandleRaw(raw []byte) {
	content, ok := extractContent(raw)
	if !ok {
		d.count("malformed")
		log.Debug().Int("bytes", len(raw)).Msg("dropping unparseable upstream frame")
		return
	}
	d.Dispatch(content)
}

// Dispatch routes one unwrapped content object by RType. Exported because
// tests and pre-parsed paths feed maps directly.
func (d *Demux) Dispatch(content map[string]any) {
	rtype := str(content, "RType")
	switch {
	case rtype == models.RTypeTrade:
		d.count("trade")
		d.post(d.tradeClosure(content))
	case rtype == models.RTypeQuote:
		d.count("quote")
		d.post(d.quoteClosure(content))
	case rtype == models.RTypeForeign:
		d.count("foreign")
		ev := decodeForeign(content)
		d.post(func() {
			if d.OnForeign != nil {
				d.OnForeign(ev)
			}
		})
	case rtype == models.RTypeIndex:
		d.count("index")
		ev := decodeIndex(content)
		d.post(func() {
			if d.OnIndex != nil {
				d.OnIndex(ev)
			}
		})
	case rtype == models.RTypeBar:
		d.count("bar")
		ev := decodeBar(content)
		d.post(func() {
			if d.OnBar != nil {
				d.OnBar(ev)
			}
		})
	case strings.HasPrefix(rtype, "X"):
		// Combined derivatives frames carry book and trade fields together.
		d.count("trade")
		d.count("quote")
		quote := d.quoteClosure(content)
		trade := d.tradeClosure(content)
		d.post(func() {
			quote()
			trade()
		})
	default:
		d.count("unknown")
		log.Debug().Str("rtype", rtype).Msg("dropping frame with unknown RType")
	}
}

func (d *Demux) tradeClosure(content map[string]any) func() {
	ev := decodeTrade(content)
	return func() {
		if d.OnTrade != nil {
			d.OnTrade(ev)
		}
	}
}

func (d *Demux) quoteClosure(content map[string]any) func() {
	ev := decodeQuote(content)
	return func() {
		if d.OnQuote != nil {
			d.OnQuote(ev)
		}
	}
}

func (d *Demux) post(fn func()) {
	if !d.loop.Submit(fn) {
		log.Debug().Msg("run loop stopped, dropping upstream event")
	}
}

func (d *Demux) count(channel string) {
	if d.reg != nil {
		d.reg.SSIMessagesReceived.WithLabelValues(channel).Inc()
	}
}

// extractContent unwraps the broker envelope. Frames arrive either flat, or
// with the payload under "Content"/"content", which may itself be a
// JSON-encoded string.
func extractContent(raw []byte) (map[string]any, bool) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, false
	}

	inner, ok := frame["Content"]
	if !ok {
		inner, ok = frame["content"]
	}
	if !ok {
		return frame, true
	}

	switch v := inner.(type) {
	case map[string]any:
		return v, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, false
		}
		return m, true
	default:
		return nil, false
	}
}

func decodeTrade(m map[string]any) *models.TradeEvent {
	return &models.TradeEvent{
		Symbol:         str(m, "Symbol", "StockSymbol"),
		Exchange:       str(m, "Exchange"),
		LastPrice:      f64(m, "LastPrice"),
		LastVol:        i64(m, "LastVol"),
		TotalVol:       i64(m, "TotalVol"),
		TotalVal:       f64(m, "TotalVal"),
		Change:         f64(m, "Change"),
		RatioChange:    f64(m, "RatioChange"),
		TradingSession: str(m, "TradingSession"),
	}
}

func decodeQuote(m map[string]any) *models.QuoteEvent {
	return &models.QuoteEvent{
		Symbol:    str(m, "Symbol", "StockSymbol"),
		Exchange:  str(m, "Exchange"),
		Ceiling:   f64(m, "Ceiling"),
		Floor:     f64(m, "Floor"),
		RefPrice:  f64(m, "RefPrice"),
		Open:      f64(m, "Open"),
		High:      f64(m, "High"),
		Low:       f64(m, "Low"),
		BidPrice1: f64(m, "BidPrice1"),
		BidVol1:   i64(m, "BidVol1"),
		AskPrice1: f64(m, "AskPrice1"),
		AskVol1:   i64(m, "AskVol1"),
		BidPrice2: f64(m, "BidPrice2"),
		BidVol2:   i64(m, "BidVol2"),
		AskPrice2: f64(m, "AskPrice2"),
		AskVol2:   i64(m, "AskVol2"),
		BidPrice3: f64(m, "BidPrice3"),
		BidVol3:   i64(m, "BidVol3"),
		AskPrice3: f64(m, "AskPrice3"),
		AskVol3:   i64(m, "AskVol3"),
	}
}

func decodeForeign(m map[string]any) *models.ForeignEvent {
	return &models.ForeignEvent{
		Symbol:      str(m, "Symbol", "StockSymbol"),
		FBuyVol:     i64(m, "FBuyVol"),
		FSellVol:    i64(m, "FSellVol"),
		FBuyVal:     f64(m, "FBuyVal"),
		FSellVal:    f64(m, "FSellVal"),
		TotalRoom:   i64(m, "TotalRoom"),
		CurrentRoom: i64(m, "CurrentRoom"),
	}
}

func decodeIndex(m map[string]any) *models.IndexEvent {
	return &models.IndexEvent{
		IndexID:         str(m, "IndexId", "IndexID"),
		IndexValue:      f64(m, "IndexValue"),
		PriorIndexValue: f64(m, "PriorIndexValue"),
		Change:          f64(m, "Change"),
		RatioChange:     f64(m, "RatioChange"),
		TotalQtty:       i64(m, "TotalQtty"),
		TotalVal:        f64(m, "TotalVal"),
		Advances:        i64(m, "Advances"),
		Declines:        i64(m, "Declines"),
		NoChanges:       i64(m, "NoChanges"),
	}
}

func decodeBar(m map[string]any) *models.BarEvent {
	return &models.BarEvent{
		Symbol: str(m, "Symbol", "StockSymbol"),
		Time:   str(m, "Time"),
		Open:   f64(m, "Open"),
		High:   f64(m, "High"),
		Low:    f64(m, "Low"),
		Close:  f64(m, "Close"),
		Volume: i64(m, "Volume"),
	}
}

// Coercion helpers tolerate the broker's mixed encodings: numbers arrive as
// float64, string, or are absent entirely.

func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func f64(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	case int64:
		return float64(v)
	}
	return 0
}

func i64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int64(f)
		}
	case int64:
		return v
	}
	return 0
}
