// Package cli wires configuration, data sources and services into the
// daisy command tree.
package cli

import (
	"errors"
	"io"
	"log/slog"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/Raziel0714/daisyStockAnalysis/config"
	"github.com/Raziel0714/daisyStockAnalysis/internal/logger"
	"github.com/Raziel0714/daisyStockAnalysis/internal/store/sqlite"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	cfgPath string
	cfg     *config.Config
	log     *slog.Logger
	out     io.Writer

	// opened lazily, closed by closeAll
	store   *sqlite.Store
	rdb     *goredis.Client
	closers []func() error
}

// NewRootCmd builds the daisy command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "daisy",
		Short: "Technical-indicator and break-retest signal analysis for stock bars",
		Long: `daisy computes moving averages, MACD, RSI, Bollinger bands and rolling
highs/lows over OHLCV bars and runs signal strategies over them:

  analyze  one-shot analysis over a date range
  recent   one-shot analysis over a trailing period
  serve    REST and websocket API with live sessions
  watch    scheduled alerts for a ticker list
  fetch    copy provider bars into the local SQLite store`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "daisy.yaml", "config file; missing is fine")

	root.AddCommand(
		newAnalyzeCmd(a),
		newRecentCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newFetchCmd(a),
	)
	return root
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.InitTo(cmd.ErrOrStderr(), "daisy", level)
	a.out = cmd.OutOrStdout()
	return nil
}

// runE wraps a command body so everything it opened is closed afterwards,
// on error too.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		return errors.Join(err, a.closeAll())
	}
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// closeAll runs closers in reverse order.
func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
