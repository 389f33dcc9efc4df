package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
)

// outputFlags control how a Result is printed.
type outputFlags struct {
	tail   int
	pretty bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.tail, "tail", 0, "print only the last N rows (0 prints all)")
	cmd.Flags().BoolVar(&o.pretty, "pretty", false, "indent the JSON output")
}

func (a *app) printResult(res *signals.Result, o outputFlags) error {
	if o.tail > 0 && len(res.Rows) > o.tail {
		res.Rows = res.Rows[len(res.Rows)-o.tail:]
	}
	enc := json.NewEncoder(a.out)
	if o.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		startStr, endStr string
		interval         string
		provider         string
		sf               strategyFlags
		of               outputFlags
	)

	cmd := &cobra.Command{
		Use:   "analyze TICKER",
		Short: "Analyse historical bars over a date range",
		Example: `  daisy analyze AAPL --start 2026-01-02 --end 2026-03-31 --interval 1d
  daisy analyze MSFT --start 2026-04-01 --interval 15m --strategy ma_crossover --tail 20`,
		Args: cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			start, err := parseDate("start", startStr)
			if err != nil {
				return err
			}
			if start.IsZero() {
				return &model.ConfigurationError{Field: "start", Reason: "--start is required"}
			}
			end, err := parseDate("end", endStr)
			if err != nil {
				return err
			}
			iv, err := intervalOr(interval, a.cfg.Server.Interval)
			if err != nil {
				return err
			}
			base, err := a.strategyConfig()
			if err != nil {
				return err
			}
			strat, err := sf.apply(cmd, base)
			if err != nil {
				return err
			}
			hist, err := a.historySource(provider)
			if err != nil {
				return err
			}

			svc := signals.NewService(hist, nil, a.log)
			res, err := svc.Analyze(cmd.Context(), signals.Query{
				Ticker:   normTicker(args[0]),
				Start:    start,
				End:      end,
				Interval: iv,
				Strategy: strat,
			})
			if err != nil {
				return err
			}
			return a.printResult(res, of)
		}),
	}

	cmd.Flags().StringVar(&startStr, "start", "", "range start, YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "range end, exclusive (default now)")
	cmd.Flags().StringVar(&interval, "interval", "", "bar interval: 1m 5m 15m 30m 1h 1d 1wk (default from config)")
	cmd.Flags().StringVar(&provider, "provider", "", "history provider: yahoo, alpaca or sqlite (default from config)")
	sf.register(cmd)
	of.register(cmd)
	return cmd
}

func newRecentCmd(a *app) *cobra.Command {
	var (
		period   string
		interval string
		provider string
		sf       strategyFlags
		of       outputFlags
	)

	cmd := &cobra.Command{
		Use:     "recent TICKER",
		Short:   "Analyse the trailing period of bars",
		Example: `  daisy recent AAPL --period 5d --interval 5m --tail 10`,
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if period == "" {
				period = a.cfg.Server.Period
			}
			lookback, err := model.ParsePeriod(period)
			if err != nil {
				return err
			}
			iv, err := intervalOr(interval, a.cfg.Server.Interval)
			if err != nil {
				return err
			}
			base, err := a.strategyConfig()
			if err != nil {
				return err
			}
			strat, err := sf.apply(cmd, base)
			if err != nil {
				return err
			}
			hist, err := a.historySource(provider)
			if err != nil {
				return err
			}

			svc := signals.NewService(hist, nil, a.log)
			res, err := svc.Recent(cmd.Context(), signals.RecentQuery{
				Ticker:   normTicker(args[0]),
				Period:   lookback,
				Interval: iv,
				Strategy: strat,
			})
			if err != nil {
				return err
			}
			return a.printResult(res, of)
		}),
	}

	cmd.Flags().StringVar(&period, "period", "", "trailing window, e.g. 5d, 90m, 2wk (default from config)")
	cmd.Flags().StringVar(&interval, "interval", "", "bar interval (default from config)")
	cmd.Flags().StringVar(&provider, "provider", "", "history provider: yahoo, alpaca or sqlite (default from config)")
	sf.register(cmd)
	of.register(cmd)
	return cmd
}
