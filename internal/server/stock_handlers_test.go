package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkalathas/foresight/internal/accuracy"
	"github.com/dkalathas/foresight/internal/calendar"
	"github.com/dkalathas/foresight/internal/domain"
	"github.com/dkalathas/foresight/internal/ledger"
	"github.com/dkalathas/foresight/internal/models"
)

type handlerEnv struct {
	db       *sql.DB
	models   *models.Repository
	ledger   *ledger.Repository
	accuracy *accuracy.Repository
	router   *chi.Mux
}

// noDatesSource never extends the calendar; handler tests preload it.
type noDatesSource struct{}

func (noDatesSource) TradingDatesSince(date string) ([]string, error) {
	return nil, nil
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE day (
			day_number INTEGER PRIMARY KEY,
			date       TEXT NOT NULL UNIQUE
		);
		CREATE TABLE model (
			ticker               TEXT PRIMARY KEY,
			artifact             BLOB,
			recommendation       TEXT NOT NULL DEFAULT '',
			last_update          INTEGER NOT NULL DEFAULT 0,
			status               TEXT NOT NULL DEFAULT 'new',
			version              INTEGER NOT NULL DEFAULT 0,
			summary_mape         REAL,
			summary_accuracy_pct REAL,
			summary_balance      REAL
		);
		CREATE TABLE prediction (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker         TEXT NOT NULL,
			from_day       INTEGER NOT NULL,
			for_day        INTEGER NOT NULL,
			predicted      REAL NOT NULL,
			actual         REAL,
			recommend_long INTEGER NOT NULL DEFAULT 0,
			ape            REAL,
			UNIQUE (ticker, from_day, for_day)
		);
		CREATE TABLE daily_accuracy (
			ticker       TEXT NOT NULL,
			day          INTEGER NOT NULL,
			mape         REAL,
			buy_accuracy INTEGER,
			balance      REAL,
			PRIMARY KEY (ticker, day)
		);
	`)
	require.NoError(t, err, "Failed to create schema")

	log := zerolog.New(nil).Level(zerolog.Disabled)

	calRepo := calendar.NewRepository(db, log)
	calSvc := calendar.NewService(calRepo, noDatesSource{}, "2024-01-01", log)
	require.NoError(t, calSvc.Extend([]string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}))

	modelRepo := models.NewRepository(db, log)
	ledgerRepo := ledger.NewRepository(db, log)
	accuracyRepo := accuracy.NewRepository(db, log)

	handlers := NewStockHandlers(modelRepo, ledgerRepo, accuracyRepo, calSvc, log)
	router := chi.NewRouter()
	router.Route("/api/stocks", func(r chi.Router) {
		r.Get("/", handlers.HandleList)
		r.Get("/{symbol}", handlers.HandleDetail)
		r.Get("/{symbol}/accuracy", handlers.HandleAccuracy)
	})

	return &handlerEnv{
		db:       db,
		models:   modelRepo,
		ledger:   ledgerRepo,
		accuracy: accuracyRepo,
		router:   router,
	}
}

func (e *handlerEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHandleList(t *testing.T) {
	e := newHandlerEnv(t)
	require.NoError(t, e.models.EnsureExists("AAPL"))
	require.NoError(t, e.models.EnsureExists("NFLX"))

	rec, body := e.get(t, "/api/stocks/")
	assert.Equal(t, http.StatusOK, rec.Code)

	stocks := body["stocks"].([]interface{})
	require.Len(t, stocks, 2)
	first := stocks[0].(map[string]interface{})
	assert.Equal(t, "AAPL", first["symbol"])
	assert.Equal(t, "new", first["status"])
}

func TestHandleDetail_UnknownSymbol(t *testing.T) {
	e := newHandlerEnv(t)

	rec, _ := e.get(t, "/api/stocks/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDetail_UntrainedModel(t *testing.T) {
	e := newHandlerEnv(t)
	require.NoError(t, e.models.EnsureExists("AAPL"))

	rec, body := e.get(t, "/api/stocks/AAPL")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", body["status"])
	assert.Contains(t, body["message"], "not yet trained")
}

func TestHandleDetail_PendingFlipsToCompleted(t *testing.T) {
	e := newHandlerEnv(t)
	require.NoError(t, e.models.EnsureExists("AAPL"))
	require.NoError(t, e.models.Save("AAPL", []byte("artifact"), "Expected to rise.", 2))
	require.NoError(t, e.models.SetState("AAPL", domain.StateInProgress))
	require.NoError(t, e.models.SetState("AAPL", domain.StatePending))
	require.NoError(t, e.ledger.RecordForecast("AAPL", 2, []domain.ForecastPoint{
		{DayOffset: 1, PredictedPrice: 105.5, RecommendLong: true},
		{DayOffset: 2, PredictedPrice: 106.5, RecommendLong: true},
	}))

	rec, body := e.get(t, "/api/stocks/AAPL")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"], "reading fresh data acknowledges it")
	assert.Equal(t, "Expected to rise.", body["recommendation"])

	forecast := body["forecast"].([]interface{})
	require.Len(t, forecast, 2)
	point := forecast[0].(map[string]interface{})
	assert.Equal(t, float64(3), point["for_day"])
	assert.Equal(t, "2024-01-04", point["date"])
	assert.Equal(t, 105.5, point["predicted_price"])

	charts := body["charts"].(map[string]interface{})
	assert.Equal(t, "/static/images/AAPL_price.png", charts["price"])

	// The flip is persisted, not just reported.
	stored, _, err := e.models.Find("AAPL")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, stored.State)

	// A second read does not change anything further.
	_, body = e.get(t, "/api/stocks/AAPL")
	assert.Equal(t, "completed", body["status"])
}

func TestHandleDetail_LowercaseSymbol(t *testing.T) {
	e := newHandlerEnv(t)
	require.NoError(t, e.models.EnsureExists("AAPL"))

	rec, body := e.get(t, "/api/stocks/aapl")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", body["symbol"])
}

func TestHandleAccuracy(t *testing.T) {
	e := newHandlerEnv(t)
	require.NoError(t, e.models.EnsureExists("AAPL"))
	require.NoError(t, e.accuracy.Seed("AAPL", 3))
	wrote, err := e.accuracy.SetMetrics("AAPL", 2, 1.5, 1, 102.0)
	require.NoError(t, err)
	require.True(t, wrote)

	rec, body := e.get(t, "/api/stocks/AAPL/accuracy?days=2")
	assert.Equal(t, http.StatusOK, rec.Code)

	history := body["history"].([]interface{})
	require.Len(t, history, 2, "days parameter limits the window")

	// Newest first: day 3 (uncomputed), then day 2.
	newest := history[0].(map[string]interface{})
	assert.Equal(t, float64(3), newest["day"])
	computed := history[1].(map[string]interface{})
	assert.Equal(t, float64(2), computed["day"])
	assert.Equal(t, 1.5, computed["mape"])
	assert.Equal(t, 102.0, computed["balance"])
	assert.Equal(t, "2024-01-03", computed["date"])
}

func TestHandleAccuracy_InvalidDays(t *testing.T) {
	e := newHandlerEnv(t)

	rec, _ := e.get(t, "/api/stocks/AAPL/accuracy?days=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = e.get(t, "/api/stocks/AAPL/accuracy?days=-3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
