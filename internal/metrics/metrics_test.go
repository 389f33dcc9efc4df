package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raziel0714/daisyStockAnalysis/internal/breaker"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// ────────────────────────────────────────────────────────────────────────────
// Collectors
// ────────────────────────────────────────────────────────────────────────────

func TestFanoutHooks(t *testing.T) {
	m := New(nil)
	h := m.FanoutHooks()

	iv := model.Interval{Count: 5, Unit: model.Minute}
	h.OnOpen("AAPL", iv)
	h.OnOpen("MSFT", iv)
	h.OnClose("MSFT")
	h.OnError("AAPL", errors.New("boom"))
	h.OnDrop("AAPL", "sub-1")
	h.OnDrop("AAPL", "sub-2")
	h.OnSubscribers(3)
	h.OnSubscribers(-1)
	h.OnBreaker("AAPL", breaker.StateOpen)
	h.OnBreaker("AAPL", breaker.StateHalfOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamOpens.WithLabelValues(iv.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamErrors.WithLabelValues("AAPL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FanoutDrops.WithLabelValues("AAPL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTrips.WithLabelValues("AAPL")))
}

func TestSignalHooks(t *testing.T) {
	m := New(nil)
	h := m.SignalHooks()

	h.OnAnalyze("breakout", 20*time.Millisecond, nil)
	h.OnAnalyze("breakout", 30*time.Millisecond, errors.New("upstream"))
	h.OnSignal(strategy.Signal{Strategy: "breakout", Action: strategy.ActionBuy, Ticker: "AAPL"})
	h.OnSession(1)
	h.OnSession(1)
	h.OnSession(-1)
	m.ObserveAlert(strategy.Signal{Strategy: "breakout", Action: strategy.ActionSell})
	m.SetMarketOpen(true)

	assert.Equal(t, 1, testutil.CollectAndCount(m.AnalyzeDur))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyzeErrors.WithLabelValues("breakout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("breakout", string(strategy.ActionBuy))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("breakout", string(strategy.ActionSell))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarketState))
}

func TestHandler_Exposition(t *testing.T) {
	m := New(nil)
	m.SessionsOpen.Set(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "daisy_sessions_open 4"))
}

// ────────────────────────────────────────────────────────────────────────────
// Health
// ────────────────────────────────────────────────────────────────────────────

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_NoDependencies(t *testing.T) {
	code, body := healthz(t, NewHealthStatus(nil, nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "redis_connected")
	assert.NotContains(t, body, "sqlite_ok")
}

func TestHealth_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	h := NewHealthStatus(nil, db)
	h.Check(context.Background())
	code, body := healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["sqlite_ok"])

	require.NoError(t, db.Close())
	h.Check(context.Background())
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, false, body["sqlite_ok"])
}

func TestHealth_UncheckedDependencyIsNotHealthy(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	code, body := healthz(t, NewHealthStatus(nil, db))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
}
