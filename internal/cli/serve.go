package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Raziel0714/daisyStockAnalysis/internal/gateway"
	"github.com/Raziel0714/daisyStockAnalysis/internal/metrics"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
)

func newServeCmd(a *app) *cobra.Command {
	var withWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST and websocket API",
		Long: `Serve the analysis API:

  GET /api/ohlc          analysis over a date range
  GET /api/ohlc/recent   analysis over a trailing period
  GET /ws/bars           live session stream
  GET /api/streams       open live upstreams
  GET /healthz           dependency health
  GET /metrics           Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, withWatch)
		}),
	}
	cmd.Flags().BoolVar(&withWatch, "watch", false, "also run the alert watcher from the watch config section")
	return cmd
}

func (a *app) serve(ctx context.Context, withWatch bool) error {
	defaults, err := a.gatewayDefaults()
	if err != nil {
		return err
	}
	hist, err := a.historySource("")
	if err != nil {
		return err
	}
	live, err := a.liveSource(ctx, hist)
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	fan := a.newFanout(live)
	if fan != nil {
		fan.Hooks = m.FanoutHooks()
	}
	svc := signals.NewService(hist, fan, a.log)
	svc.Hooks = m.SignalHooks()
	go trackMarket(ctx, m)

	health := a.healthStatus()
	health.StartLivenessChecker(ctx, 10*time.Second)

	srv := gateway.NewServer(svc, fan, defaults, a.log)
	srv.Health = health
	if a.cfg.Server.MetricsAddr != "" {
		ms := metrics.NewServer(a.cfg.Server.MetricsAddr, m, health, a.log)
		ms.Start()
		a.onClose(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return ms.Stop(sctx)
		})
	} else {
		srv.Metrics = m.Handler()
	}

	if withWatch {
		w, err := a.newWatcher(svc, m)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	httpSrv := &http.Server{
		Addr:              a.cfg.ServerAddr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("api listening", "addr", httpSrv.Addr,
			"history", a.cfg.Provider.History, "live", a.cfg.Provider.Live)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked and not tracked by Shutdown; the
	// fanout close in closeAll ends their sessions.
	return httpSrv.Shutdown(sctx)
}

func (a *app) gatewayDefaults() (gateway.Defaults, error) {
	var d gateway.Defaults
	var err error
	if d.Strategy, err = a.strategyConfig(); err != nil {
		return d, err
	}
	if d.Interval, err = model.ParseInterval(a.cfg.Server.Interval); err != nil {
		return d, err
	}
	if d.Period, err = model.ParsePeriod(a.cfg.Server.Period); err != nil {
		return d, err
	}
	if d.Warmup, err = model.ParsePeriod(a.cfg.Server.Warmup); err != nil {
		return d, err
	}
	return d, nil
}

// healthStatus tracks whichever of Redis and SQLite this invocation opened.
func (a *app) healthStatus() *metrics.HealthStatus {
	var db *sql.DB
	if a.store != nil {
		db = a.store.DB()
	}
	return metrics.NewHealthStatus(a.rdb, db)
}
