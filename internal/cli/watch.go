package cli

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Raziel0714/daisyStockAnalysis/internal/markethours"
	"github.com/Raziel0714/daisyStockAnalysis/internal/metrics"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		tickers     []string
		schedule    string
		marketHours bool
		once        bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Send alerts when watched tickers produce a new signal",
		Example: `  daisy watch --tickers AAPL,MSFT,NVDA --schedule "@every 1m" --market-hours
  daisy watch --once`,
		Args: cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("tickers") {
				a.cfg.Watch.Tickers = tickers
			}
			if schedule != "" {
				a.cfg.Watch.Schedule = schedule
			}
			if marketHours {
				a.cfg.Watch.MarketHoursOnly = true
			}

			hist, err := a.historySource("")
			if err != nil {
				return err
			}
			svc := signals.NewService(hist, nil, a.log)

			var m *metrics.Metrics
			if !once && a.cfg.Server.MetricsAddr != "" {
				m = metrics.New(nil)
				svc.Hooks = m.SignalHooks()
			}
			w, err := a.newWatcher(svc, m)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if once {
				return a.printSignals(w.Tick(ctx))
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if m != nil {
				ms := metrics.NewServer(a.cfg.Server.MetricsAddr, m, a.healthStatus(), a.log)
				ms.Start()
				defer ms.Stop(context.Background())
				go trackMarket(ctx, m)
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			w.Stop()
			return nil
		}),
	}

	cmd.Flags().StringSliceVar(&tickers, "tickers", nil, "comma-separated tickers (default from config)")
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron spec such as "@every 1m" or "*/5 9-16 * * 1-5"`)
	cmd.Flags().BoolVar(&marketHours, "market-hours", false, "only check during the US regular session")
	cmd.Flags().BoolVar(&once, "once", false, "check once, print delivered signals and exit")
	return cmd
}

// newWatcher builds a watcher from the watch config section. Sent alerts
// are remembered in the SQLite store. m may be nil.
func (a *app) newWatcher(svc *signals.Service, m *metrics.Metrics) (*signals.Watcher, error) {
	wc := a.cfg.Watch
	iv, err := model.ParseInterval(wc.Interval)
	if err != nil {
		return nil, err
	}
	period, err := model.ParsePeriod(wc.Period)
	if err != nil {
		return nil, err
	}
	strat, err := a.strategyConfig()
	if err != nil {
		return nil, err
	}
	n, err := a.notifier()
	if err != nil {
		return nil, err
	}
	alerts, err := a.openStore()
	if err != nil {
		return nil, err
	}

	tickers := make([]string, 0, len(wc.Tickers))
	for _, t := range wc.Tickers {
		tickers = append(tickers, normTicker(t))
	}
	w, err := signals.NewWatcher(svc, n, alerts, signals.WatchConfig{
		Tickers:         tickers,
		Interval:        iv,
		Period:          period,
		Schedule:        wc.Schedule,
		Strategy:        strat,
		MarketHoursOnly: wc.MarketHoursOnly,
	}, a.log)
	if err != nil {
		return nil, err
	}
	if m != nil {
		w.OnAlert = m.ObserveAlert
	}
	return w, nil
}

func (a *app) printSignals(sigs []strategy.Signal) error {
	if sigs == nil {
		sigs = []strategy.Signal{}
	}
	return json.NewEncoder(a.out).Encode(sigs)
}

// trackMarket keeps the market state gauge current.
func trackMarket(ctx context.Context, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		m.SetMarketOpen(markethours.IsMarketOpen(time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
