package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		startStr, endStr string
		interval         string
		provider         string
		follow           bool
	)

	cmd := &cobra.Command{
		Use:   "fetch TICKER",
		Short: "Copy bars from a provider into the SQLite store",
		Long: `Copy bars from a provider into the SQLite store so later runs can use
provider "sqlite" offline. With --follow, keep recording bars from the
configured live provider until interrupted.`,
		Example: `  daisy fetch AAPL --start 2026-01-02 --interval 1d
  daisy fetch AAPL --interval 1m --provider alpaca --follow`,
		Args: cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ticker := normTicker(args[0])
			if provider == "sqlite" {
				return &model.ConfigurationError{Field: "provider", Reason: "fetch reads from a remote provider"}
			}
			iv, err := intervalOr(interval, a.cfg.Server.Interval)
			if err != nil {
				return err
			}
			start, err := parseDate("start", startStr)
			if err != nil {
				return err
			}
			end, err := parseDate("end", endStr)
			if err != nil {
				return err
			}
			if end.IsZero() {
				end = time.Now()
			}
			if start.IsZero() && !follow {
				return &model.ConfigurationError{Field: "start", Reason: "--start is required without --follow"}
			}
			if provider == "" && a.cfg.Provider.History == "sqlite" {
				provider = "yahoo"
			}

			hist, err := a.historySource(provider)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if !start.IsZero() {
				series, err := hist.FetchHistory(ctx, ticker, start, end, iv)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", ticker, err)
				}
				if err := st.Save(ctx, series); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "saved %d %s bars for %s\n", series.Len(), iv, ticker)
			}
			if !follow {
				return nil
			}

			live, err := a.liveSource(ctx, hist)
			if err != nil {
				return err
			}
			if live == nil {
				return &model.ConfigurationError{Field: "provider.live", Reason: `--follow needs a live provider other than "none"`}
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events, stopStream, err := live.OpenLiveStream(ctx, ticker, iv)
			if err != nil {
				return err
			}
			defer stopStream()
			a.log.Info("recording live bars", "ticker", ticker, "interval", iv.String(), "live", a.cfg.Provider.Live)
			return st.Record(ctx, ticker, iv, events)
		}),
	}

	cmd.Flags().StringVar(&startStr, "start", "", "range start, YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&endStr, "end", "", "range end, exclusive (default now)")
	cmd.Flags().StringVar(&interval, "interval", "", "bar interval (default from config)")
	cmd.Flags().StringVar(&provider, "provider", "", "history provider: yahoo or alpaca (default from config)")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep recording live bars until interrupted")
	return cmd
}
