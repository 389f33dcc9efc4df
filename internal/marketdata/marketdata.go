// Package marketdata assembles concrete bar providers into the
// model.MarketDataSource used by signals and the fanout.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Source pairs an optional history provider with an optional live
// provider. A missing half answers with model.ErrUnsupported.
type Source struct {
	History model.HistorySource
	Live    model.LiveSource
}

// Compose builds a Source. Either argument may be nil.
func Compose(history model.HistorySource, live model.LiveSource) *Source {
	return &Source{History: history, Live: live}
}

var _ model.MarketDataSource = (*Source)(nil)

// FetchHistory implements model.HistorySource.
func (s *Source) FetchHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) (*model.BarSeries, error) {
	if s.History == nil {
		return nil, fmt.Errorf("fetch history %s: %w", ticker, model.ErrUnsupported)
	}
	return s.History.FetchHistory(ctx, ticker, start, end, interval)
}

// FetchRecent implements model.HistorySource.
func (s *Source) FetchRecent(ctx context.Context, ticker string, lookback time.Duration, interval model.Interval) (*model.BarSeries, error) {
	if s.History == nil {
		return nil, fmt.Errorf("fetch recent %s: %w", ticker, model.ErrUnsupported)
	}
	return s.History.FetchRecent(ctx, ticker, lookback, interval)
}

// OpenLiveStream implements model.LiveSource.
func (s *Source) OpenLiveStream(ctx context.Context, ticker string, interval model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	if s.Live == nil {
		return nil, nil, fmt.Errorf("open live %s: %w", ticker, model.ErrUnsupported)
	}
	return s.Live.OpenLiveStream(ctx, ticker, interval)
}

// RecentFromHistory implements FetchRecent on top of FetchHistory for
// providers that only support ranges.
func RecentFromHistory(ctx context.Context, h model.HistorySource, now time.Time, ticker string, lookback time.Duration, interval model.Interval) (*model.BarSeries, error) {
	if lookback <= 0 {
		return nil, &model.ConfigurationError{Field: "lookback", Reason: "must be positive"}
	}
	return h.FetchHistory(ctx, ticker, now.Add(-lookback), now, interval)
}

// ValidateRange checks the common FetchHistory arguments.
func ValidateRange(ticker string, start, end time.Time, interval model.Interval) error {
	if ticker == "" {
		return &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return err
	}
	if end.Before(start) {
		return &model.ConfigurationError{Field: "range", Reason: fmt.Sprintf("end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))}
	}
	return nil
}
