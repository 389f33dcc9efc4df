package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

const chartFixture = `{"chart":{"result":[{
  "timestamp":[1775050200,1775050260,1775050320,1775050380],
  "indicators":{"quote":[{
    "open":  [10.0, 10.5, null, 11.0],
    "high":  [10.6, 11.0, null, 11.2],
    "low":   [ 9.9, 10.4, null, 10.9],
    "close": [10.5, 10.9, null, 11.1],
    "volume":[1000, null, null, 300]
  }]}}],"error":null}}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New("")
	c.BaseURL = srv.URL
	return c
}

func TestFetchHistory_ParsesChartAndSkipsNulls(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(chartFixture))
	})

	start := time.Unix(1775050200, 0)
	end := start.Add(10 * time.Minute)
	series, err := c.FetchHistory(context.Background(), "AAPL", start, end, model.MustInterval("1m"))
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "1m", gotQuery["interval"][0])
	assert.Equal(t, "1775050200", gotQuery["period1"][0])

	require.Equal(t, 3, series.Len())
	assert.Equal(t, 10.5, series.At(0).Close)
	assert.Equal(t, 0.0, series.At(1).Volume, "null volume reads as zero")
	last, ok := series.Last()
	require.True(t, ok)
	assert.Equal(t, 11.1, last.Close)
}

func TestFetchHistory_MapsIndexSymbols(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(chartFixture))
	})
	start := time.Unix(1775050200, 0)
	_, err := c.FetchHistory(context.Background(), "spx", start, start.Add(time.Hour), model.MustInterval("1m"))
	require.NoError(t, err)
	assert.Equal(t, "/v8/finance/chart/%5EGSPC", gotPath)
}

func TestFetchHistory_ResamplesUnsupportedInterval(t *testing.T) {
	var gotInterval string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotInterval = r.URL.Query().Get("interval")
		_, _ = w.Write([]byte(chartFixture))
	})
	start := time.Unix(1775050200, 0)
	series, err := c.FetchHistory(context.Background(), "AAPL", start, start.Add(time.Hour), model.MustInterval("3m"))
	require.NoError(t, err)

	assert.Equal(t, "1m", gotInterval)
	assert.Equal(t, "3m", series.Interval.String())
	require.Equal(t, 2, series.Len())
	first := series.At(0)
	assert.Equal(t, 10.0, first.Open)
	assert.Equal(t, 11.0, first.High)
	assert.Equal(t, 10.9, first.Close)
}

func TestFetchHistory_NotFoundIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})
	start := time.Unix(1775050200, 0)
	series, err := c.FetchHistory(context.Background(), "ZZZZ", start, start.Add(time.Hour), model.MustInterval("1m"))
	require.NoError(t, err)
	assert.True(t, series.Empty())
}

func TestFetchHistory_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	start := time.Unix(1775050200, 0)
	_, err := c.FetchHistory(context.Background(), "AAPL", start, start.Add(time.Hour), model.MustInterval("1m"))
	require.Error(t, err)
	assert.False(t, model.IsConfigurationError(err))
}

func TestFetchRecent_UsesClock(t *testing.T) {
	var p1, p2 string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		p1, p2 = r.URL.Query().Get("period1"), r.URL.Query().Get("period2")
		_, _ = w.Write([]byte(chartFixture))
	})
	now := time.Unix(1775053800, 0)
	c.now = func() time.Time { return now }

	series, err := c.FetchRecent(context.Background(), "AAPL", time.Hour, model.MustInterval("1m"))
	require.NoError(t, err)
	assert.Equal(t, "1775050200", p1)
	assert.Equal(t, "1775053800", p2)
	assert.Equal(t, 3, series.Len())
}

func TestChartInterval(t *testing.T) {
	cases := []struct {
		in        string
		native    string
		resampled bool
	}{
		{"1m", "1m", false},
		{"5m", "5m", false},
		{"10m", "5m", true},
		{"7m", "1m", true},
		{"1h", "60m", false},
		{"4h", "60m", true},
		{"1d", "1d", false},
		{"2d", "1d", true},
		{"1wk", "1wk", false},
	}
	for _, tc := range cases {
		native, resampled := chartInterval(model.MustInterval(tc.in))
		assert.Equal(t, tc.native, native, tc.in)
		assert.Equal(t, tc.resampled, resampled, tc.in)
	}
}
