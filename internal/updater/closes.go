package updater

import (
	"github.com/dkalathas/foresight/internal/calendar"
)

// CloseLookup resolves a trading day number to a realized close via the
// calendar and the market-data client. It backs the accuracy aggregator's
// fallback for days the ledger cannot answer (no prediction ever targeted
// them, e.g. the day before a ticker's very first forecast).
type CloseLookup struct {
	calendar *calendar.Service
	market   MarketData
}

// NewCloseLookup creates the day-number close resolver.
func NewCloseLookup(cal *calendar.Service, market MarketData) *CloseLookup {
	return &CloseLookup{calendar: cal, market: market}
}

// ClosePriceByDay implements accuracy.CloseLookup.
func (l *CloseLookup) ClosePriceByDay(ticker string, day int) (float64, bool, error) {
	date, err := l.calendar.DateFor(day)
	if err != nil {
		return 0, false, err
	}
	if date == "" {
		return 0, false, nil
	}
	return l.market.ClosePrice(ticker, date)
}
