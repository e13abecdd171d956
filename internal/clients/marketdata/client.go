// Package marketdata provides daily closing price fetching from the Yahoo
// Finance chart API.
package marketdata

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const isoDate = "2006-01-02"

// Bar is a single daily close.
type Bar struct {
	Date  string // ISO date, YYYY-MM-DD
	Close float64
}

// Client for the Yahoo Finance v8 chart API. All requests run through a
// circuit breaker so a flaky upstream trips fast instead of stalling every
// update run.
type Client struct {
	client          *resty.Client
	breaker         *gobreaker.CircuitBreaker
	referenceSymbol string
	log             zerolog.Logger
}

// NewClient creates a market data client. referenceSymbol is the instrument
// whose trading sessions define the exchange calendar.
func NewClient(baseURL, referenceSymbol string, log zerolog.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "foresight/1.0")

	settings := gobreaker.Settings{Name: "marketdata"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &Client{
		client:          client,
		breaker:         gobreaker.NewCircuitBreaker(settings),
		referenceSymbol: referenceSymbol,
		log:             log.With().Str("client", "marketdata").Logger(),
	}
}

// chartResponse mirrors the subset of the chart payload we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ClosingHistory fetches daily closes for a symbol from sinceDate (ISO,
// inclusive) through today, oldest first. Sessions with a null close are
// skipped.
func (c *Client) ClosingHistory(symbol, sinceDate string) ([]Bar, error) {
	since, err := time.Parse(isoDate, sinceDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", sinceDate, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchChart(symbol, since, time.Now().UTC().Add(24*time.Hour))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}

	bars := result.([]Bar)
	c.log.Debug().
		Str("symbol", symbol).
		Str("since", sinceDate).
		Int("bars", len(bars)).
		Msg("Fetched closing history")

	return bars, nil
}

// ClosePrice returns the closing price for a symbol on a specific date.
// ok is false when the fetch succeeded but the market had no session (or no
// close) on that date; a transport or upstream failure is an error, never a
// silent zero.
func (c *Client) ClosePrice(symbol, date string) (float64, bool, error) {
	day, err := time.Parse(isoDate, date)
	if err != nil {
		return 0, false, fmt.Errorf("invalid date %q: %w", date, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchChart(symbol, day, day.Add(24*time.Hour))
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to fetch close for %s on %s: %w", symbol, date, err)
	}

	for _, bar := range result.([]Bar) {
		if bar.Date == date {
			return bar.Close, true, nil
		}
	}
	return 0, false, nil
}

// TradingDatesSince returns the exchange's trading dates from sinceDate
// (inclusive) onwards, oldest first, derived from the reference symbol's
// sessions.
func (c *Client) TradingDatesSince(sinceDate string) ([]string, error) {
	bars, err := c.ClosingHistory(c.referenceSymbol, sinceDate)
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(bars))
	for _, bar := range bars {
		dates = append(dates, bar.Date)
	}
	return dates, nil
}

func (c *Client) fetchChart(symbol string, from, to time.Time) ([]Bar, error) {
	var payload chartResponse
	resp, err := c.client.R().
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"period1":  fmt.Sprintf("%d", from.Unix()),
			"period2":  fmt.Sprintf("%d", to.Unix()),
			"interval": "1d",
		}).
		SetResult(&payload).
		Get("/v8/finance/chart/{symbol}")
	if err != nil {
		return nil, fmt.Errorf("chart request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chart API returned status %d", resp.StatusCode())
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error: %s (%s)",
			payload.Chart.Error.Description, payload.Chart.Error.Code)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart API returned no result for %s", symbol)
	}

	series := payload.Chart.Result[0]
	if len(series.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart API returned no quote series for %s", symbol)
	}
	closes := series.Indicators.Quote[0].Close

	bars := make([]Bar, 0, len(series.Timestamp))
	for i, ts := range series.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		bars = append(bars, Bar{
			Date:  time.Unix(ts, 0).UTC().Format(isoDate),
			Close: *closes[i],
		})
	}
	return bars, nil
}
