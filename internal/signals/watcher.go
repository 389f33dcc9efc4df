package signals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Raziel0714/daisyStockAnalysis/internal/id"
	"github.com/Raziel0714/daisyStockAnalysis/internal/logger"
	"github.com/Raziel0714/daisyStockAnalysis/internal/markethours"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/notification"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// WatchConfig configures the alert loop.
type WatchConfig struct {
	Tickers  []string
	Interval model.Interval
	Period   time.Duration
	// Schedule is a cron spec; "@every 30s" when empty.
	Schedule string
	Strategy strategy.Config
	// MarketHoursOnly skips ticks outside the US regular session.
	MarketHoursOnly bool
}

// AlertLog remembers sent alerts across restarts.
type AlertLog interface {
	LastAlert(ctx context.Context, ticker, strategyName string) (time.Time, bool, error)
	SaveAlert(ctx context.Context, id string, sig strategy.Signal) error
}

// Watcher polls recent analysis for a ticker list and notifies on fresh
// signals. A signal is sent once: only when its bar is newer than the
// last alerted bar for that ticker.
type Watcher struct {
	svc      *Service
	notifier notification.Notifier
	alerts   AlertLog
	cfg      WatchConfig
	log      *slog.Logger
	isOpen   func(time.Time) bool

	cron *cron.Cron

	mu   sync.Mutex
	last map[string]time.Time

	// OnAlert is called after an alert is delivered.
	OnAlert func(sig strategy.Signal)
}

// NewWatcher validates cfg. alerts may be nil.
func NewWatcher(svc *Service, n notification.Notifier, alerts AlertLog, cfg WatchConfig, log *slog.Logger) (*Watcher, error) {
	if len(cfg.Tickers) == 0 {
		return nil, &model.ConfigurationError{Field: "tickers", Reason: "at least one required"}
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, &model.ConfigurationError{Field: "schedule", Reason: err.Error()}
	}
	if err := cfg.Interval.Validate(); err != nil {
		return nil, err
	}
	if cfg.Period <= 0 {
		return nil, &model.ConfigurationError{Field: "period", Reason: "must be positive"}
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	w := &Watcher{
		svc:      svc,
		notifier: n,
		alerts:   alerts,
		cfg:      cfg,
		log:      log.With("component", "watcher"),
		isOpen:   func(time.Time) bool { return true },
		last:     make(map[string]time.Time),
	}
	if cfg.MarketHoursOnly {
		w.isOpen = markethours.IsMarketOpen
	}
	return w, nil
}

// Start runs one tick now and then on the schedule until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("register watch task: %w", err)
	}
	w.cron.Start()
	go w.Tick(ctx)
	w.log.Info("watcher started", "tickers", strings.Join(w.cfg.Tickers, ","), "schedule", w.cfg.Schedule,
		"interval", w.cfg.Interval.String(), "period", w.cfg.Period)
	return nil
}

// Stop stops the schedule and waits for a running tick.
func (w *Watcher) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.log.Info("watcher stopped")
}

// Tick checks every ticker once and returns the signals it delivered.
func (w *Watcher) Tick(ctx context.Context) []strategy.Signal {
	if !w.isOpen(w.svc.now()) {
		w.log.Debug("market closed, skipping tick")
		return nil
	}
	ctx, _ = logger.EnsureTraceID(ctx)

	var sent []strategy.Signal
	for _, ticker := range w.cfg.Tickers {
		if ctx.Err() != nil {
			break
		}
		sig, ok, err := w.check(ctx, ticker)
		if err != nil {
			logger.With(ctx, w.log).Warn("watch check failed", "ticker", ticker, "err", err)
			continue
		}
		if ok {
			sent = append(sent, sig)
		}
	}
	return sent
}

func (w *Watcher) check(ctx context.Context, ticker string) (strategy.Signal, bool, error) {
	res, err := w.svc.Recent(ctx, RecentQuery{
		Ticker:   ticker,
		Period:   w.cfg.Period,
		Interval: w.cfg.Interval,
		Strategy: w.cfg.Strategy,
	})
	if err != nil {
		return strategy.Signal{}, false, err
	}
	if res.Signal == nil {
		return strategy.Signal{}, false, nil
	}
	sig := *res.Signal

	last, err := w.lastAlerted(ctx, ticker, sig.Strategy)
	if err != nil {
		return strategy.Signal{}, false, err
	}
	if !sig.TS.After(last) {
		return strategy.Signal{}, false, nil
	}

	alertID := id.New()
	if err := w.notifier.Send(ctx, notification.SignalAlert(alertID, sig)); err != nil {
		return strategy.Signal{}, false, fmt.Errorf("notify: %w", err)
	}

	w.mu.Lock()
	w.last[ticker] = sig.TS
	w.mu.Unlock()
	if w.alerts != nil {
		if err := w.alerts.SaveAlert(ctx, alertID, sig); err != nil {
			w.log.Warn("alert log write failed", "ticker", ticker, "err", err)
		}
	}
	if w.OnAlert != nil {
		w.OnAlert(sig)
	}
	logger.With(ctx, w.log).Info("alert sent", "alert_id", alertID, "ticker", ticker, "action", string(sig.Action), "bar_ts", sig.TS)
	return sig, true, nil
}

func (w *Watcher) lastAlerted(ctx context.Context, ticker, strategyName string) (time.Time, error) {
	w.mu.Lock()
	last, ok := w.last[ticker]
	w.mu.Unlock()
	if ok || w.alerts == nil {
		return last, nil
	}
	ts, found, err := w.alerts.LastAlert(ctx, ticker, strategyName)
	if err != nil {
		return time.Time{}, fmt.Errorf("read alert log: %w", err)
	}
	if found {
		w.mu.Lock()
		w.last[ticker] = ts
		w.mu.Unlock()
	}
	return ts, nil
}
