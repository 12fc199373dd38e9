package backtest

import (
	"math"
	"sort"
	"time"

	"services/backtest-service/internal/model"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// tradingDays annualizes the daily Sharpe ratio
const tradingDays = 252

const (
	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
)

// roundTrip is a SELL paired with the BUY that opened it
type roundTrip struct {
	buy  model.Trade
	sell model.Trade
}

func (rt roundTrip) profit() float64 {
	return rt.sell.Profit.InexactFloat64()
}

func (rt roundTrip) holding() time.Duration {
	return time.Duration(rt.sell.Timestamp-rt.buy.Timestamp) * time.Millisecond
}

// pairTrades matches every SELL with the preceding BUY. A trailing BUY
// without a SELL is left out.
func pairTrades(trades []model.Trade) []roundTrip {
	var out []roundTrip
	var open *model.Trade
	for i := range trades {
		t := trades[i]
		switch t.Type {
		case model.SideBuy:
			open = &trades[i]
		case model.SideSell:
			if open == nil || t.Profit == nil {
				continue
			}
			out = append(out, roundTrip{buy: *open, sell: t})
			open = nil
		}
	}
	return out
}

// drawdown tracks the high-water mark of a balance series
type drawdown struct {
	peak float64
	max  float64
}

func newDrawdown(initial float64) drawdown {
	return drawdown{peak: initial}
}

// observe updates the peak and the maximum drawdown in percent
func (d *drawdown) observe(balance float64) {
	if balance > d.peak {
		d.peak = balance
	}
	if d.peak <= 0 {
		return
	}
	if dd := (d.peak - balance) / d.peak * 100; dd > d.max {
		d.max = dd
	}
}

// Aggregate computes the report for a finished ledger. It is a pure
// function of its arguments; rates are percentages.
func Aggregate(trades []model.Trade, initialBalance decimal.Decimal, loc *time.Location) *model.BacktestResult {
	if loc == nil {
		loc = time.UTC
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	result := &model.BacktestResult{
		Trades:         trades,
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		TotalProfit:    decimal.Zero,
		MonthlyReturns: monthlyReturns(bucketReturns(trades, loc, monthLayout)),
		DailyReturns:   dailyReturns(bucketReturns(trades, loc, dayLayout)),
		Suggestions:    []model.StrategyImprovement{},
	}

	trips := pairTrades(trades)
	result.TotalTrades = len(trips)

	if len(trades) > 0 {
		result.FinalBalance = trades[len(trades)-1].Balance
		result.TotalProfit = result.FinalBalance.Sub(initialBalance)
	}
	initial := initialBalance.InexactFloat64()
	if initial != 0 {
		result.ProfitRate = result.TotalProfit.InexactFloat64() / initial * 100
	}

	var grossWin, grossLoss, sumWin, sumLoss float64
	var holdings []float64
	for _, rt := range trips {
		p := rt.profit()
		if p > 0 {
			result.WinCount++
			sumWin += p
			grossWin += p
			result.LargestWin = math.Max(result.LargestWin, p)
		} else {
			result.LossCount++
			sumLoss += p
			if p < 0 {
				grossLoss += -p
			}
			result.LargestLoss = math.Min(result.LargestLoss, p)
		}
		holdings = append(holdings, rt.holding().Minutes())
	}

	if closed := result.WinCount + result.LossCount; closed > 0 {
		winRate := float64(result.WinCount) / float64(closed)
		result.WinRate = winRate * 100
		if result.WinCount > 0 {
			result.AverageWinAmount = sumWin / float64(result.WinCount)
		}
		if result.LossCount > 0 {
			result.AverageLossAmount = sumLoss / float64(result.LossCount)
		}
		result.Expectancy = winRate*result.AverageWinAmount - (1-winRate)*math.Abs(result.AverageLossAmount)
	}
	if grossLoss > 0 {
		result.ProfitFactor = grossWin / grossLoss
	}
	if avg, err := stats.Mean(holdings); err == nil {
		result.AverageHoldingPeriod = avg
	}

	dd := newDrawdown(initial)
	for _, t := range trades {
		dd.observe(t.Balance.InexactFloat64())
	}
	result.MaxDrawdown = dd.max
	if dd.max > 0 && initial != 0 {
		result.RecoveryFactor = math.Abs(result.TotalProfit.InexactFloat64()) / (dd.max / 100 * initial)
	}

	result.SharpeRatio = sharpeRatio(result.DailyReturns)
	result.TradePatterns = analyzePatterns(trades, trips, loc)
	result.Suggestions = suggest(result.TradePatterns)
	return result
}

// periodReturn is the performance of one calendar bucket
type periodReturn struct {
	key    string
	profit float64
	rate   float64
	sells  int
}

// bucketReturns groups trades by the calendar period formatted with layout.
// Profit is the balance change from the first to the last trade of the
// bucket; the rate is relative to the first balance.
func bucketReturns(trades []model.Trade, loc *time.Location, layout string) []periodReturn {
	type bucket struct {
		first, last decimal.Decimal
		sells       int
	}
	buckets := make(map[string]*bucket)
	var keys []string
	for _, t := range trades {
		key := time.UnixMilli(t.Timestamp).In(loc).Format(layout)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{first: t.Balance}
			buckets[key] = b
			keys = append(keys, key)
		}
		b.last = t.Balance
		if t.Type == model.SideSell {
			b.sells++
		}
	}
	sort.Strings(keys)

	out := make([]periodReturn, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		profit := b.last.Sub(b.first)
		r := periodReturn{key: key, profit: profit.InexactFloat64(), sells: b.sells}
		if !b.first.IsZero() {
			r.rate = profit.Div(b.first).Mul(hundred).InexactFloat64()
		}
		out = append(out, r)
	}
	return out
}

func monthlyReturns(periods []periodReturn) []model.MonthlyReturn {
	out := make([]model.MonthlyReturn, len(periods))
	for i, p := range periods {
		out[i] = model.MonthlyReturn{Month: p.key, Profit: p.profit, ProfitRate: p.rate, Trades: p.sells}
	}
	return out
}

func dailyReturns(periods []periodReturn) []model.DailyReturn {
	out := make([]model.DailyReturn, len(periods))
	for i, p := range periods {
		out[i] = model.DailyReturn{Date: p.key, Profit: p.profit, ProfitRate: p.rate, Trades: p.sells}
	}
	return out
}

// sharpeRatio annualizes mean over population deviation of daily returns
func sharpeRatio(days []model.DailyReturn) float64 {
	if len(days) == 0 {
		return 0
	}
	returns := make([]float64, len(days))
	for i, d := range days {
		returns[i] = d.ProfitRate / 100
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviation(returns)
	if err != nil || sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDays)
}
