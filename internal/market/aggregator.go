package market

import "github.com/vietquant/vnpulse/internal/models"

// Aggregator keeps running session totals of classified volume per symbol,
// overall and split by trading phase (ATO auction, continuous, ATC auction).
//
// Invariant: total_volume == mua + ban + neutral == ato.total + continuous.total + atc.total.
type Aggregator struct {
	stats map[string]*models.SessionStats
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{stats: make(map[string]*models.SessionStats)}
}

// AddTrade folds a classified trade into the symbol's totals and the phase
// breakdown matching its trading_session, then returns the updated stats.
func (a *Aggregator) AddTrade(t *models.ClassifiedTrade) *models.SessionStats {
	s, ok := a.stats[t.Symbol]
	if !ok {
		s = &models.SessionStats{Symbol: t.Symbol}
		a.stats[t.Symbol] = s
	}

	phase := a.phase(s, t.TradingSession)
	switch t.TradeType {
	case models.TradeMua:
		s.MuaChuDongVolume += t.Volume
		s.MuaChuDongValue += t.Value
		phase.MuaChuDongVolume += t.Volume
	case models.TradeBan:
		s.BanChuDongVolume += t.Volume
		s.BanChuDongValue += t.Value
		phase.BanChuDongVolume += t.Volume
	default:
		s.NeutralVolume += t.Volume
		phase.NeutralVolume += t.Volume
	}
	s.TotalVolume += t.Volume
	phase.TotalVolume += t.Volume
	s.LastUpdated = t.Timestamp
	return s
}

func (a *Aggregator) phase(s *models.SessionStats, session string) *models.SessionBreakdown {
	switch session {
	case "ATO":
		return &s.ATO
	case "ATC":
		return &s.ATC
	default:
		return &s.Continuous
	}
}

// Stats returns session stats for one symbol; an empty record when untracked.
func (a *Aggregator) Stats(symbol string) *models.SessionStats {
	if s, ok := a.stats[symbol]; ok {
		return s
	}
	return &models.SessionStats{Symbol: symbol}
}

// AllStats returns a shallow copy of the tracked symbol table.
func (a *Aggregator) AllStats() map[string]*models.SessionStats {
	out := make(map[string]*models.SessionStats, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}

// Reset clears all session stats at the daily reset.
func (a *Aggregator) Reset() {
	a.stats = make(map[string]*models.SessionStats)
}
