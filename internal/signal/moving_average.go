package signal

import (
	"services/backtest-service/internal/model"
)

// SMA returns the simple moving average of the last period values.
// ok is false when fewer than period values exist.
func SMA(values []float64, period int) (avg float64, ok bool) {
	if period < 1 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

func movingAverageCrossover(s model.MovingAverageCrossover, history []model.Candle) Signal {
	if len(history) < s.LongPeriod {
		return hold
	}
	window := closes(history[len(history)-s.LongPeriod:])

	short, ok := SMA(window, s.ShortPeriod)
	if !ok {
		return hold
	}
	long, _ := SMA(window, s.LongPeriod)

	switch {
	case short < long || hardStop(history, s.StopLoss):
		return Signal{Action: Sell}
	case short > long:
		return Signal{Action: Buy}
	default:
		return hold
	}
}
