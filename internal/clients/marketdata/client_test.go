package marketdata

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chartPayload builds a minimal chart API response for the given closes,
// one trading day apart starting at startDate.
func chartPayload(startDate string, closes []float64) string {
	start, _ := time.Parse(isoDate, startDate)

	timestamps := ""
	closesJSON := ""
	for i, c := range closes {
		if i > 0 {
			timestamps += ","
			closesJSON += ","
		}
		// 14:30 UTC, a regular US market open, keeps the UTC date stable.
		ts := start.AddDate(0, 0, i).Add(14*time.Hour + 30*time.Minute).Unix()
		timestamps += fmt.Sprintf("%d", ts)
		closesJSON += fmt.Sprintf("%g", c)
	}

	return fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%s],"indicators":{"quote":[{"close":[%s]}]}}],"error":null}}`,
		timestamps, closesJSON)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, "AAPL", zerolog.New(nil).Level(zerolog.Disabled))
}

func TestClosingHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartPayload("2024-01-02", []float64{185.64, 184.25, 181.91}))
	})

	bars, err := client.ClosingHistory("AAPL", "2024-01-02")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, Bar{Date: "2024-01-02", Close: 185.64}, bars[0])
	assert.Equal(t, Bar{Date: "2024-01-04", Close: 181.91}, bars[2])
}

func TestClosePrice_FoundAndMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartPayload("2024-01-02", []float64{185.64}))
	})

	price, ok, err := client.ClosePrice("AAPL", "2024-01-02")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 185.64, price)

	// No bar on that date: not an error, just absent.
	_, ok, err = client.ClosePrice("AAPL", "2024-01-06")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClosePrice_UpstreamFailureIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, _, err := client.ClosePrice("AAPL", "2024-01-02")
	assert.Error(t, err, "an upstream failure must never look like a zero price")
}

func TestClosePrice_ChartErrorPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
	})

	_, _, err := client.ClosePrice("NOPE", "2024-01-02")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "No data found")
}

func TestTradingDatesSince(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path, "calendar comes from the reference symbol")
		fmt.Fprint(w, chartPayload("2024-01-02", []float64{185.64, 184.25}))
	})

	dates, err := client.TradingDatesSince("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, dates)
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	var requests int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, _, _ = client.ClosePrice("AAPL", "2024-01-02")
	}

	assert.Equal(t, 3, requests, "breaker opens after three consecutive failures")
}
