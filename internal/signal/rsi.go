package signal

import (
	"services/backtest-service/internal/model"
)

// RSIWarmupFactor bounds the smoothing window to period*RSIWarmupFactor deltas
// so one evaluation stays O(period) on long histories.
const RSIWarmupFactor = 10

// RSI returns the Wilder relative strength index of closes over period.
// Averages are seeded with the simple mean of the first period deltas and
// smoothed over the rest. An average loss of zero yields exactly 100.
func RSI(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := delta(closes[i-1], closes[i])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		gain, loss := delta(closes[i-1], closes[i])
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func delta(prev, cur float64) (gain, loss float64) {
	change := cur - prev
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func relativeStrength(s model.RSI, history []model.Candle) Signal {
	if len(history) < s.Period+1 {
		return hold
	}
	window := history
	if limit := s.Period*RSIWarmupFactor + 1; len(window) > limit {
		window = window[len(window)-limit:]
	}

	value, ok := RSI(closes(window), s.Period)
	if !ok {
		return hold
	}

	switch {
	case value <= s.Oversold:
		return Signal{Action: Buy}
	case value >= s.Overbought || hardStop(history, s.StopLoss):
		return Signal{Action: Sell}
	default:
		return hold
	}
}
