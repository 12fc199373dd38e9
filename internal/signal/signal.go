// Package signal maps a strategy and the candle history available at one
// instant to a buy, sell or hold decision.
package signal

import (
	"services/backtest-service/internal/model"

	"github.com/shopspring/decimal"
)

// Action is the direction of a signal
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Signal is the outcome of one evaluation. TargetPrice is the reference
// price the decision was made against, when the strategy has one.
type Signal struct {
	Action      Action
	TargetPrice *decimal.Decimal
}

var hold = Signal{Action: Hold}

// Evaluate returns the signal of strategy for history, whose last element is
// the most recently closed candle. Only history is read. Hold is returned
// whenever history is shorter than the strategy's lookback.
func Evaluate(strategy model.StrategyParams, history []model.Candle) Signal {
	if len(history) == 0 {
		return hold
	}
	switch s := strategy.(type) {
	case model.VolatilityBreakout:
		return volatilityBreakout(s, history)
	case model.MovingAverageCrossover:
		return movingAverageCrossover(s, history)
	case model.RSI:
		return relativeStrength(s, history)
	default:
		return hold
	}
}

// hardStop reports whether the last close fell stopLoss below the prior close
func hardStop(history []model.Candle, stopLoss float64) bool {
	if len(history) < 2 {
		return false
	}
	prev := history[len(history)-2].Close
	limit := prev.Mul(decimal.NewFromFloat(1 - stopLoss))
	return history[len(history)-1].Close.LessThanOrEqual(limit)
}

func closes(history []model.Candle) []float64 {
	out := make([]float64, len(history))
	for i, c := range history {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}
