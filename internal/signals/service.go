// Package signals runs indicator pipelines and strategies over market
// data: one-shot analysis of historical or recent bars, persistent live
// sessions on top of the fanout, and a scheduled alert watcher.
package signals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/indicator"
	"github.com/Raziel0714/daisyStockAnalysis/internal/logger"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/fanout"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// Query asks for analysis over [Start, End). An End before Start, or a
// zero End, means now.
type Query struct {
	Ticker   string
	Start    time.Time
	End      time.Time
	Interval model.Interval
	Strategy strategy.Config
}

// RecentQuery asks for analysis over the trailing Period.
type RecentQuery struct {
	Ticker   string
	Period   time.Duration
	Interval model.Interval
	Strategy strategy.Config
}

// Hooks observe the service. They may be nil.
type Hooks struct {
	OnAnalyze func(strategy string, took time.Duration, err error)
	OnSignal  func(sig strategy.Signal)
	OnSession func(delta int)
}

// Service is the entry point for analysis and live sessions.
type Service struct {
	src model.HistorySource
	fan *fanout.Fanout
	log *slog.Logger
	now func() time.Time

	// Hooks must be set before use.
	Hooks Hooks
}

// NewService creates a service. fan may be nil when live sessions are not
// needed.
func NewService(src model.HistorySource, fan *fanout.Fanout, log *slog.Logger) *Service {
	return &Service{
		src: src,
		fan: fan,
		log: log.With("component", "signals"),
		now: time.Now,
	}
}

// Analyze fetches bars for q and evaluates them.
func (s *Service) Analyze(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	res, err := s.analyze(ctx, q)
	s.observe(q.Strategy.Kind, start, err)
	return res, err
}

func (s *Service) analyze(ctx context.Context, q Query) (*Result, error) {
	if err := validateCommon(q.Ticker, q.Interval, q.Strategy); err != nil {
		return nil, err
	}
	if q.Start.IsZero() {
		return nil, &model.ConfigurationError{Field: "start", Reason: "required"}
	}
	end := q.End
	if end.IsZero() || end.Before(q.Start) {
		end = s.now()
	}

	series, err := s.src.FetchHistory(ctx, q.Ticker, q.Start, end, q.Interval)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Ticker, err)
	}
	logger.With(ctx, s.log).Debug("analyze", "ticker", q.Ticker, "interval", q.Interval.String(), "bars", series.Len())
	return Evaluate(series, q.Strategy)
}

// Recent fetches the trailing window for q and evaluates it.
func (s *Service) Recent(ctx context.Context, q RecentQuery) (*Result, error) {
	start := time.Now()
	res, err := s.recent(ctx, q)
	s.observe(q.Strategy.Kind, start, err)
	return res, err
}

func (s *Service) recent(ctx context.Context, q RecentQuery) (*Result, error) {
	if err := validateCommon(q.Ticker, q.Interval, q.Strategy); err != nil {
		return nil, err
	}
	if q.Period <= 0 {
		return nil, &model.ConfigurationError{Field: "period", Reason: "must be positive"}
	}
	series, err := s.src.FetchRecent(ctx, q.Ticker, q.Period, q.Interval)
	if err != nil {
		return nil, fmt.Errorf("fetch recent %s: %w", q.Ticker, err)
	}
	return Evaluate(series, q.Strategy)
}

func (s *Service) observe(kind strategy.Kind, start time.Time, err error) {
	if s.Hooks.OnAnalyze != nil {
		s.Hooks.OnAnalyze(string(kind), time.Since(start), err)
	}
}

// Evaluate runs the strategy's indicator set and a fresh strategy over
// series.
func Evaluate(series *model.BarSeries, cfg strategy.Config) (*Result, error) {
	strat, err := strategy.New(cfg)
	if err != nil {
		return nil, err
	}
	pipe, err := indicator.New(cfg.Requests()...)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Ticker:   series.Ticker,
		Interval: series.Interval,
		Strategy: strat.Name(),
		Columns:  pipe.Columns(),
		Rows:     make([]Row, 0, series.Len()),
	}
	rows := make([]model.IndicatorRow, 0, series.Len())
	events := make([]strategy.Event, 0, series.Len())
	for i := 0; i < series.Len(); i++ {
		row := pipe.Next(series.At(i))
		ev := strat.Step(row)
		rows = append(rows, row)
		events = append(events, ev)
		res.Rows = append(res.Rows, Row{IndicatorRow: row, Event: ev})
	}
	if sig, ok := strategy.LastSignal(strat.Name(), series.Ticker, rows, events); ok {
		res.Signal = &sig
	}
	return res, nil
}

func validateCommon(ticker string, interval model.Interval, cfg strategy.Config) error {
	if strings.TrimSpace(ticker) == "" {
		return &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return err
	}
	return cfg.Validate()
}
