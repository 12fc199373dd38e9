package signal

import (
	"services/backtest-service/internal/model"

	"github.com/shopspring/decimal"
)

// volatilityBreakout targets prev.Open + (prev.High - prev.Low) * k
func volatilityBreakout(s model.VolatilityBreakout, history []model.Candle) Signal {
	if len(history) < 2 {
		return hold
	}
	prev := history[len(history)-2]
	cur := history[len(history)-1]

	target := prev.Open.Add(prev.High.Sub(prev.Low).Mul(decimal.NewFromFloat(s.K)))

	if cur.Close.GreaterThanOrEqual(target) {
		return Signal{Action: Buy, TargetPrice: &target}
	}
	if cur.Close.LessThanOrEqual(target.Mul(decimal.NewFromFloat(1 - s.StopLoss))) {
		return Signal{Action: Sell, TargetPrice: &target}
	}
	return Signal{Action: Hold, TargetPrice: &target}
}
