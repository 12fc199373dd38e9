package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"services/backtest-service/internal/backtest"
	"services/backtest-service/internal/client"
	"services/backtest-service/internal/config"
	"services/backtest-service/internal/model"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "backtest",
		Short:        "Replay candle history against a trading strategy",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

type runOptions struct {
	configPath string
	csvPath    string
	market     string
	unit       string
	count      int
	to         string
	strategy   string
	params     map[string]string
	balance    string
	asJSON     bool
	verbose    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest from a CSV file or from Upbit candles",
		Example: `  backtest run --csv candles.csv --strategy RSI --param period=14 --param oversold=25
  backtest run --market KRW-BTC --unit minute60 --count 2000 --strategy MOVING_AVERAGE --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "optional config file; defaults and environment otherwise")
	flags.StringVar(&opts.csvPath, "csv", "", "CSV file with timestamp,open,high,low,close,volume columns")
	flags.StringVar(&opts.market, "market", "KRW-BTC", "market code")
	flags.StringVar(&opts.unit, "unit", string(model.UnitMinute1), "candle unit")
	flags.IntVar(&opts.count, "count", 200, "number of candles")
	flags.StringVar(&opts.to, "to", "", "latest candle time (RFC3339); now when empty")
	flags.StringVar(&opts.strategy, "strategy", string(model.StrategyVolatilityBreakout), "VOLATILITY_BREAKOUT, MOVING_AVERAGE or RSI")
	flags.StringToStringVar(&opts.params, "param", nil, "strategy parameter as name=value, repeatable")
	flags.StringVar(&opts.balance, "balance", model.DefaultInitialBalance.String(), "initial balance")
	flags.Float64("fee", 0, "fee rate per fill (overrides config)")
	flags.Float64("fraction", 0, "fraction of the balance committed per entry (overrides config)")
	flags.Duration("interval", 0, "minimum time between trades (overrides config)")
	flags.String("timezone", "", "time zone for period and hour statistics (overrides config)")
	flags.BoolVar(&opts.asJSON, "json", false, "print the full result as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")

	return cmd
}

func runBacktest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cmd, &cfg.Backtest)

	logger := zap.NewNop()
	if opts.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer logger.Sync()
	}

	simCfg, err := cfg.Backtest.Simulator()
	if err != nil {
		return err
	}

	spec := model.StrategySpec{Type: model.StrategyType(opts.strategy), Market: opts.market}
	if spec.Params, err = parseParams(opts.params); err != nil {
		return err
	}
	strategy, err := spec.Parse()
	if err != nil {
		return err
	}

	balance, err := decimal.NewFromString(opts.balance)
	if err != nil || !balance.IsPositive() {
		return fmt.Errorf("invalid balance %q", opts.balance)
	}

	var to *time.Time
	if opts.to != "" {
		t, err := time.Parse(time.RFC3339, opts.to)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		to = &t
	}

	unit := model.CandleUnit(opts.unit)
	if !unit.Valid() {
		return fmt.Errorf("unknown candle unit %q", opts.unit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var source client.CandleSource
	count := opts.count
	if opts.csvPath != "" {
		csvSource, err := client.NewCSVSource(opts.csvPath)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("count") {
			count = csvSource.Len()
		}
		source = csvSource
	} else {
		source = client.NewUpbitClient(client.UpbitOptions{
			BaseURL:    cfg.Upbit.BaseURL,
			Timeout:    cfg.Upbit.Timeout,
			MaxRetries: cfg.Upbit.MaxRetries,
			PageSize:   cfg.Upbit.PageSize,
		}, logger)
	}

	candles, err := source.FetchCandles(ctx, opts.market, unit, count, to)
	if err != nil {
		return err
	}

	result, runErr := backtest.NewSimulator(simCfg, logger).Run(ctx, candles, strategy, balance)
	if runErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", runErr)
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		decimal.MarshalJSONWithoutQuotes = true
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	renderReport(out, reportHeader{
		Market:   opts.market,
		Strategy: strategy.Type(),
		Unit:     unit,
		Candles:  len(candles),
	}, result)
	return nil
}

// applyOverrides copies explicitly set flags over the configured values
func applyOverrides(cmd *cobra.Command, cfg *config.BacktestConfig) {
	flags := cmd.Flags()
	if flags.Changed("fee") {
		cfg.FeeRate, _ = flags.GetFloat64("fee")
	}
	if flags.Changed("fraction") {
		cfg.PositionSizeFraction, _ = flags.GetFloat64("fraction")
	}
	if flags.Changed("interval") {
		cfg.MinTradeInterval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("timezone") {
		cfg.Timezone, _ = flags.GetString("timezone")
	}
}

func parseParams(raw map[string]string) (model.Params, error) {
	params := make(model.Params, len(raw))
	for name, value := range raw {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}
