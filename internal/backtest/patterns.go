package backtest

import (
	"sort"
	"time"

	"services/backtest-service/internal/model"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// Band is a local-hour trading session
type Band string

const (
	Morning   Band = "morning"
	Afternoon Band = "afternoon"
	Evening   Band = "evening"
	Night     Band = "night"
)

// bands in reporting order; ties in suggestions resolve to the earliest
var bands = []Band{Morning, Afternoon, Evening, Night}

// BandOf returns the session of the given local hour:
// morning [9,12), afternoon [12,15), evening [15,18), night otherwise.
func BandOf(hour int) Band {
	switch {
	case hour >= 9 && hour < 12:
		return Morning
	case hour >= 12 && hour < 15:
		return Afternoon
	case hour >= 15 && hour < 18:
		return Evening
	default:
		return Night
	}
}

func analyzePatterns(trades []model.Trade, trips []roundTrip, loc *time.Location) model.TradePatterns {
	var patterns model.TradePatterns

	for _, t := range trades {
		band := BandOf(time.UnixMilli(t.Timestamp).In(loc).Hour())
		var profit float64
		if t.Type == model.SideSell && t.Profit != nil {
			profit = t.Profit.InexactFloat64()
		}
		switch band {
		case Morning:
			patterns.TimeOfDay.Morning++
			patterns.ProfitByTime.Morning += profit
		case Afternoon:
			patterns.TimeOfDay.Afternoon++
			patterns.ProfitByTime.Afternoon += profit
		case Evening:
			patterns.TimeOfDay.Evening++
			patterns.ProfitByTime.Evening += profit
		default:
			patterns.TimeOfDay.Night++
			patterns.ProfitByTime.Night += profit
		}
	}

	patterns.ConsecutiveWins, patterns.ConsecutiveLosses = streaks(trades)
	patterns.AverageHoldingTime = holdingTimes(trips)
	patterns.VolumeProfile = volumeProfile(trades)
	return patterns
}

// streaks returns the longest runs of winning and losing SELL trades
func streaks(trades []model.Trade) (wins, losses int) {
	var curWins, curLosses int
	for _, t := range trades {
		if t.Type != model.SideSell || t.Profit == nil {
			continue
		}
		if t.Profit.IsPositive() {
			curWins++
			curLosses = 0
		} else {
			curLosses++
			curWins = 0
		}
		if curWins > wins {
			wins = curWins
		}
		if curLosses > losses {
			losses = curLosses
		}
	}
	return wins, losses
}

// holdingTimes returns the mean holding time in hours of profitable and
// unprofitable round trips
func holdingTimes(trips []roundTrip) model.HoldingTime {
	var profitable, unprofitable []float64
	for _, rt := range trips {
		hours := rt.holding().Hours()
		if rt.profit() > 0 {
			profitable = append(profitable, hours)
		} else {
			unprofitable = append(unprofitable, hours)
		}
	}

	var out model.HoldingTime
	if avg, err := stats.Mean(profitable); err == nil {
		out.Profitable = avg
	}
	if avg, err := stats.Mean(unprofitable); err == nil {
		out.Unprofitable = avg
	}
	return out
}

// volumeProfile splits SELL volumes into terciles of the sorted distribution.
// With fewer than three SELLs both cuts fall on the smallest volume, so
// every volume counts as high.
func volumeProfile(trades []model.Trade) model.VolumeProfile {
	var volumes []decimal.Decimal
	for _, t := range trades {
		if t.Type == model.SideSell {
			volumes = append(volumes, t.Volume)
		}
	}

	var out model.VolumeProfile
	if len(volumes) == 0 {
		return out
	}
	third := len(volumes) / 3
	if third == 0 {
		out.High = len(volumes)
		return out
	}

	sorted := make([]decimal.Decimal, len(volumes))
	copy(sorted, volumes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	lowCut := sorted[third]
	highCut := sorted[len(sorted)-third]

	for _, v := range volumes {
		switch {
		case v.GreaterThanOrEqual(highCut):
			out.High++
		case v.LessThan(lowCut):
			out.Low++
		default:
			out.Medium++
		}
	}
	return out
}
