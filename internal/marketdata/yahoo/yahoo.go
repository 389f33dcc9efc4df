// Package yahoo fetches historical bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/resample"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// DefaultBaseURL is the public chart endpoint.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// Client implements model.HistorySource.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	SymbolMap map[string]string // internal symbol -> Yahoo ticker

	now func() time.Time
}

var _ model.HistorySource = (*Client)(nil)

// New creates a client. proxyURL may be empty.
func New(proxyURL string) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Client{
		BaseURL: DefaultBaseURL,
		HTTP: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		SymbolMap: map[string]string{
			"SPX":   "^GSPC",
			"SP500": "^GSPC",
			"NDX":   "^NDX",
		},
		now: time.Now,
	}
}

func (c *Client) symbol(s string) string {
	if mapped, ok := c.SymbolMap[strings.ToUpper(s)]; ok {
		return mapped
	}
	return s
}

// FetchHistory implements model.HistorySource.
func (c *Client) FetchHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) (*model.BarSeries, error) {
	if err := marketdata.ValidateRange(ticker, start, end, interval); err != nil {
		return nil, err
	}
	native, resampled := chartInterval(interval)

	q := url.Values{}
	q.Set("interval", native)
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))

	bars, err := c.fetchChart(ctx, ticker, q)
	if err != nil {
		return nil, err
	}

	in := bars[:0]
	for _, b := range bars {
		if !b.TS.Before(start) && b.TS.Before(end) {
			in = append(in, b)
		}
	}

	if resampled {
		base, _ := model.ParseInterval(nativeModel(native))
		raw, _ := model.NewBarSeries(ticker, base, in)
		return resample.Series(raw, interval), nil
	}
	series, _ := model.NewBarSeries(ticker, interval, in)
	return series, nil
}

// FetchRecent implements model.HistorySource.
func (c *Client) FetchRecent(ctx context.Context, ticker string, lookback time.Duration, interval model.Interval) (*model.BarSeries, error) {
	return marketdata.RecentFromHistory(ctx, c, c.now(), ticker, lookback, interval)
}

// chartResponse is the subset of the chart API payload we read. Price
// arrays hold null for missing buckets.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetchChart(ctx context.Context, ticker string, q url.Values) ([]model.Bar, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.symbol(ticker)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("yahoo: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		// Unknown symbols and empty ranges come back as API errors.
		if chart.Chart.Error.Code == "Not Found" {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", resp.StatusCode)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, okO := at(quote.Open, i)
		h, okH := at(quote.High, i)
		l, okL := at(quote.Low, i)
		cl, okC := at(quote.Close, i)
		if !okO || !okH || !okL || !okC {
			continue // null bucket (halt, holiday)
		}
		v, _ := at(quote.Volume, i)
		bars = append(bars, model.Bar{
			TS:     time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Volume: v,
		})
	}
	return bars, nil
}

func at(xs []*float64, i int) (float64, bool) {
	if i >= len(xs) || xs[i] == nil {
		return 0, false
	}
	return *xs[i], true
}

// chartInterval maps an interval to a native chart interval. When the
// chart API has no exact match it returns the finest compatible one and
// resampled=true.
func chartInterval(iv model.Interval) (native string, resampled bool) {
	switch iv.Unit {
	case model.Minute:
		switch iv.Count {
		case 1, 2, 5, 15, 30, 90:
			return iv.String(), false
		case 60:
			return "60m", false
		}
		if iv.Count%5 == 0 {
			return "5m", true
		}
		return "1m", true
	case model.Hour:
		if iv.Count == 1 {
			return "60m", false
		}
		return "60m", true
	case model.Day:
		if iv.Count == 1 || iv.Count == 5 {
			return iv.String(), false
		}
		return "1d", true
	case model.Week:
		if iv.Count == 1 {
			return "1wk", false
		}
		return "1wk", true
	}
	return iv.String(), false
}

func nativeModel(native string) string {
	if native == "60m" {
		return "1h"
	}
	return native
}
