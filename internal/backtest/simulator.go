// Package backtest replays candles against a strategy and reports on the
// resulting trades.
package backtest

import (
	"context"
	"fmt"
	"time"

	"services/backtest-service/internal/model"
	"services/backtest-service/internal/signal"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the execution parameters of a simulation
type Config struct {
	PositionSizeFraction float64        `mapstructure:"positionSizeFraction"`
	FeeRate              float64        `mapstructure:"feeRate"`
	MinTradeInterval     time.Duration  `mapstructure:"minTradeInterval"`
	Location             *time.Location `mapstructure:"-"`
	CheckEvery           int            `mapstructure:"checkEvery"`
}

// DefaultConfig returns the standard execution parameters: 90% of the
// balance per entry, a 0.05% fee and one minute between trades.
func DefaultConfig() Config {
	return Config{
		PositionSizeFraction: 0.9,
		FeeRate:              0.0005,
		MinTradeInterval:     time.Minute,
		Location:             time.UTC,
		CheckEvery:           1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PositionSizeFraction <= 0 || c.PositionSizeFraction > 1 {
		c.PositionSizeFraction = def.PositionSizeFraction
	}
	if c.FeeRate < 0 {
		c.FeeRate = def.FeeRate
	}
	if c.MinTradeInterval < 0 {
		c.MinTradeInterval = def.MinTradeInterval
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	if c.CheckEvery <= 0 {
		c.CheckEvery = def.CheckEvery
	}
	return c
}

// Simulator runs backtests. It holds no per-run state and is safe for
// concurrent use.
type Simulator struct {
	cfg      Config
	fraction decimal.Decimal
	fee      decimal.Decimal
	logger   *zap.Logger
}

// NewSimulator creates a new simulator
func NewSimulator(cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Simulator{
		cfg:      cfg,
		fraction: decimal.NewFromFloat(cfg.PositionSizeFraction),
		fee:      decimal.NewFromFloat(cfg.FeeRate),
		logger:   logger,
	}
}

// Config returns the effective configuration
func (s *Simulator) Config() Config {
	return s.cfg
}

type position struct {
	entryIdx   int
	entryPrice decimal.Decimal
	volume     decimal.Decimal
	cost       decimal.Decimal
}

// run is the mutable state of one simulation
type run struct {
	sim      *Simulator
	ledger   *Ledger
	pos      *position
	lastTime int64
	traded   bool
	drawdown drawdown
}

// Run replays candles against strategy starting from initialBalance.
//
// The signal for candle i sees candles[:i+1] only and any order is filled at
// the close of candle i+1, or of candle i when it is the last one. Take
// profit and stop loss are checked against the close of candle i. A position
// still open at the end is closed at the last processed candle, or at its
// own fill candle when that lies beyond it.
//
// Fewer than two candles yield an empty result. When ctx is cancelled the
// loop stops at the next check, the open position is closed, and the partial
// result is returned marked Aborted together with the context error.
func (s *Simulator) Run(
	ctx context.Context,
	candles []model.Candle,
	strategy model.StrategyParams,
	initialBalance decimal.Decimal,
) (*model.BacktestResult, error) {
	if len(candles) < 2 {
		return Aggregate(nil, initialBalance, s.cfg.Location), nil
	}

	r := &run{
		sim:      s,
		ledger:   NewLedger(initialBalance),
		drawdown: newDrawdown(initialBalance.InexactFloat64()),
	}
	profitTarget, stopLoss := strategy.ExitRules()

	n := len(candles)
	processed := 0
	var cancelErr error
	for i := 0; i < n; i++ {
		if i%s.cfg.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				cancelErr = err
				break
			}
		}

		cur := candles[i]
		execIdx := i
		if i+1 < n {
			execIdx = i + 1
		}
		exec := candles[execIdx]
		sig := signal.Evaluate(strategy, candles[:i+1])

		if r.pos == nil {
			if sig.Action == signal.Buy && r.cooledDown(exec.Timestamp) {
				r.open(exec, execIdx)
			}
		} else if r.shouldExit(cur.Close, sig, profitTarget, stopLoss) {
			r.close(exec)
		}

		r.drawdown.observe(r.ledger.Balance().InexactFloat64())
		processed = i + 1
	}

	if r.pos != nil {
		// the entry may have filled on a candle the loop never reached
		last := processed - 1
		if r.pos.entryIdx > last {
			last = r.pos.entryIdx
		}
		r.close(candles[last])
		r.drawdown.observe(r.ledger.Balance().InexactFloat64())
	}

	result := Aggregate(r.ledger.Trades(), initialBalance, s.cfg.Location)
	result.MaxDrawdown = r.drawdown.max

	if cancelErr != nil {
		result.Aborted = true
		s.logger.Warn("Backtest aborted",
			zap.String("strategy", string(strategy.Type())),
			zap.Int("processed", processed),
			zap.Int("candles", n),
			zap.Error(cancelErr))
		return result, fmt.Errorf("backtest aborted after %d of %d candles: %w", processed, n, cancelErr)
	}

	s.logger.Debug("Backtest finished",
		zap.String("strategy", string(strategy.Type())),
		zap.Int("candles", n),
		zap.Int("trades", r.ledger.Len()))
	return result, nil
}

func (r *run) cooledDown(ts int64) bool {
	if !r.traded {
		return true
	}
	return ts-r.lastTime >= r.sim.cfg.MinTradeInterval.Milliseconds()
}

func (r *run) shouldExit(price decimal.Decimal, sig signal.Signal, profitTarget, stopLoss float64) bool {
	change := price.Div(r.pos.entryPrice).InexactFloat64() - 1
	switch {
	case change >= profitTarget:
		return true
	case -change >= stopLoss:
		return true
	default:
		return sig.Action == signal.Sell
	}
}

func (r *run) open(exec model.Candle, idx int) {
	price := exec.Close
	if !price.IsPositive() {
		return
	}
	alloc := r.ledger.Balance().Mul(r.sim.fraction)
	notional := alloc.Sub(alloc.Mul(r.sim.fee))
	if !notional.IsPositive() {
		return
	}
	volume := notional.Div(price)
	notional = volume.Mul(price)
	cost := notional.Add(notional.Mul(r.sim.fee))

	r.ledger.Buy(exec.Timestamp, price, volume, notional, cost)
	r.pos = &position{entryIdx: idx, entryPrice: price, volume: volume, cost: cost}
	r.lastTime = exec.Timestamp
	r.traded = true
}

func (r *run) close(exec model.Candle) {
	price := exec.Close
	proceeds := r.pos.volume.Mul(price)
	net := proceeds.Sub(proceeds.Mul(r.sim.fee))
	profit := net.Sub(r.pos.cost)
	rate := price.Div(r.pos.entryPrice).Sub(decimal.NewFromInt(1)).Mul(hundred).InexactFloat64()

	r.ledger.Sell(exec.Timestamp, price, r.pos.volume, net, profit, rate)
	r.pos = nil
	r.lastTime = exec.Timestamp
	r.traded = true
}
