package backtest

import (
	"fmt"
	"math"

	"services/backtest-service/internal/model"
)

// MinLosingStreak is the losing streak length that triggers a circuit
// breaker suggestion
const MinLosingStreak = 3

func suggest(p model.TradePatterns) []model.StrategyImprovement {
	out := []model.StrategyImprovement{}

	worst, loss := worstBand(p.ProfitByTime)
	if loss < 0 {
		out = append(out, model.StrategyImprovement{
			Type:        model.ImprovementTimeRestriction,
			Description: fmt.Sprintf("Consider avoiding trades during %s hours", worst),
			Impact:      math.Abs(loss),
		})
	}

	if p.ConsecutiveLosses >= MinLosingStreak {
		out = append(out, model.StrategyImprovement{
			Type:        model.ImprovementConsecutiveLoss,
			Description: fmt.Sprintf("Add safety measures after %d consecutive losses", p.ConsecutiveLosses),
			Impact:      float64(p.ConsecutiveLosses),
		})
	}

	hold := p.AverageHoldingTime
	if hold.Unprofitable > hold.Profitable {
		out = append(out, model.StrategyImprovement{
			Type:        model.ImprovementHoldingTime,
			Description: "Consider implementing earlier exit rules for losing trades",
			Impact:      hold.Unprofitable - hold.Profitable,
		})
	}
	return out
}

func worstBand(p model.TimeOfDayProfit) (Band, float64) {
	profits := map[Band]float64{
		Morning:   p.Morning,
		Afternoon: p.Afternoon,
		Evening:   p.Evening,
		Night:     p.Night,
	}
	worst := bands[0]
	for _, b := range bands[1:] {
		if profits[b] < profits[worst] {
			worst = b
		}
	}
	return worst, profits[worst]
}
