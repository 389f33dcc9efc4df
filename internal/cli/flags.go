package cli

import (
	"github.com/spf13/cobra"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// strategyFlags override the configured strategy for one command.
type strategyFlags struct {
	kind      string
	lookback  int
	tolerance float64
	confirm   int
	fast      string
	slow      string
}

func (f *strategyFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.kind, "strategy", "", "break_retest or ma_crossover (default from config)")
	fs.IntVar(&f.lookback, "lookback", 0, "break_retest HH/LL window")
	fs.Float64Var(&f.tolerance, "tolerance", 0, "break_retest retest band, e.g. 0.003")
	fs.IntVar(&f.confirm, "confirm", 0, "break_retest confirmation bars")
	fs.StringVar(&f.fast, "fast", "", "ma_crossover fast column")
	fs.StringVar(&f.slow, "slow", "", "ma_crossover slow column")
}

// apply starts from base and applies the flags the user set.
func (f *strategyFlags) apply(cmd *cobra.Command, base strategy.Config) (strategy.Config, error) {
	cfg := base
	fs := cmd.Flags()
	if fs.Changed("strategy") {
		kind, err := strategy.ParseKind(f.kind)
		if err != nil {
			return cfg, err
		}
		cfg.Kind = kind
	}
	if fs.Changed("lookback") {
		cfg.BreakRetest.Lookback = f.lookback
	}
	if fs.Changed("tolerance") {
		cfg.BreakRetest.Tolerance = f.tolerance
	}
	if fs.Changed("confirm") {
		cfg.BreakRetest.ConfirmationBars = f.confirm
	}
	if fs.Changed("fast") {
		cfg.Fast = f.fast
	}
	if fs.Changed("slow") {
		cfg.Slow = f.slow
	}
	return cfg, cfg.Validate()
}

// intervalOr parses s, falling back to def when s is empty.
func intervalOr(s, def string) (model.Interval, error) {
	if s == "" {
		s = def
	}
	return model.ParseInterval(s)
}
