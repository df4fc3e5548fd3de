package market

import (
	"fmt"
	"strings"
	"time"
)

// FuturesPrefix marks VN30 index futures symbols (VN30F<YY><MM>).
const FuturesPrefix = "VN30F"

// IsFutures reports whether a symbol is a VN30F contract.
func IsFutures(symbol string) bool {
	return strings.HasPrefix(symbol, FuturesPrefix)
}

// FuturesResolver derives the tradable VN30F contract symbols from the
// calendar. Contracts expire on the third Thursday, but liquidity rolls to
// the next month from the last Thursday of the month, so both the current
// and next month contracts are watched. A non-empty override pins a single
// contract and bypasses the rule.
type FuturesResolver struct {
	override string
	now      func() time.Time
}

// NewFuturesResolver builds a resolver; override may be empty.
func NewFuturesResolver(override string) *FuturesResolver {
	return &FuturesResolver{override: strings.ToUpper(strings.TrimSpace(override)), now: time.Now}
}

// WatchSymbols returns the contracts to subscribe: current and next month,
// or just the override when pinned.
func (r *FuturesResolver) WatchSymbols() []string {
	if r.override != "" {
		return []string{r.override}
	}
	now := r.now()
	return []string{contractSymbol(now), contractSymbol(nextMonth(now))}
}

// Primary returns the most active contract symbol: the current month's until
// the last Thursday of the month inclusive, the next month's from that day on.
func (r *FuturesResolver) Primary() string {
	if r.override != "" {
		return r.override
	}
	now := r.now()
	if !now.Before(lastThursday(now)) {
		return contractSymbol(nextMonth(now))
	}
	return contractSymbol(now)
}

func contractSymbol(t time.Time) string {
	return fmt.Sprintf("%s%02d%02d", FuturesPrefix, t.Year()%100, int(t.Month()))
}

func nextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
}

// lastThursday returns midnight of the last Thursday of t's month.
func lastThursday(t time.Time) time.Time {
	lastDay := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, -1)
	offset := (int(lastDay.Weekday()) - int(time.Thursday) + 7) % 7
	return lastDay.AddDate(0, 0, -offset)
}
